package battle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/quizverse/arena-core/internal/content"
	"github.com/quizverse/arena-core/internal/economy"
	"github.com/quizverse/arena-core/pkg/arenadto"
)

type fakeProvider struct {
	questions []content.Question
	fail      error
}

func (f *fakeProvider) GetQuestions(_ context.Context, count int) ([]content.Question, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	return f.questions[:count], nil
}

type recordSettler struct {
	done chan *Battle
}

func (r *recordSettler) Settle(_ context.Context, b *Battle) error {
	r.done <- b
	return nil
}

type capturePub struct {
	mu     sync.Mutex
	events []arenadto.Event
}

func (c *capturePub) Publish(_ context.Context, ev arenadto.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *capturePub) kinds() []arenadto.EventKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]arenadto.EventKind, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.Kind
	}
	return out
}

func threeQuestions() []content.Question {
	return []content.Question{
		{ID: "q1", Prompt: "1+1", Choices: []string{"1", "2", "3"}, Answer: 1},
		{ID: "q2", Prompt: "2+2", Choices: []string{"3", "4", "5"}, Answer: 1},
		{ID: "q3", Prompt: "3+3", Choices: []string{"5", "6", "7"}, Answer: 1},
	}
}

func testTier() economy.Tier {
	return economy.Tier{Name: "casual", EntryFee: 10, WinnerPrize: 16, PlatformRetention: 4}
}

func newTestManager(t *testing.T, w Windows) (*Manager, *recordSettler, *capturePub) {
	t.Helper()
	settler := &recordSettler{done: make(chan *Battle, 1)}
	pub := &capturePub{}
	m := NewManager(&fakeProvider{questions: threeQuestions()}, settler, pub, nil, w)
	t.Cleanup(m.Close)
	return m, settler, pub
}

func waitSettled(t *testing.T, s *recordSettler) *Battle {
	t.Helper()
	select {
	case b := <-s.done:
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("settlement never ran")
		return nil
	}
}

func TestFullBattleDecisiveWin(t *testing.T) {
	ctx := context.Background()
	m, settler, pub := newTestManager(t, Windows{
		Confirm: 5 * time.Second, Question: 5 * time.Second,
		Battle: 30 * time.Second, QuestionCount: 3,
	})

	id, err := m.StartBattle(ctx, testTier(), "alice", "bob")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Confirm(ctx, id, "alice"); err != nil {
		t.Fatalf("confirm alice: %v", err)
	}
	if b, _ := m.Get(id); b.Phase != PhaseConfirming {
		t.Fatalf("phase after one confirm = %s", b.Phase)
	}
	if err := m.Confirm(ctx, id, "bob"); err != nil {
		t.Fatalf("confirm bob: %v", err)
	}
	if b, _ := m.Get(id); b.Phase != PhaseInProgress || b.Current != 0 {
		t.Fatalf("battle not in progress after both confirms: %+v", b)
	}

	// alice answers everything right, bob everything wrong.
	for i := 0; i < 3; i++ {
		if err := m.SubmitAnswer(ctx, id, "alice", i, 1); err != nil {
			t.Fatalf("alice q%d: %v", i, err)
		}
		if err := m.SubmitAnswer(ctx, id, "bob", i, 0); err != nil {
			t.Fatalf("bob q%d: %v", i, err)
		}
	}

	b := waitSettled(t, settler)
	if b.Phase != PhaseFinished {
		t.Fatalf("phase = %s, want finished", b.Phase)
	}
	if b.WinnerID != "alice" || b.Tie {
		t.Fatalf("winner = %q tie=%v, want alice", b.WinnerID, b.Tie)
	}
	if b.Scores["alice"] != 3 || b.Scores["bob"] != 0 {
		t.Fatalf("scores = %v", b.Scores)
	}

	var sawFinished bool
	for _, k := range pub.kinds() {
		if k == arenadto.EventBattleFinished {
			sawFinished = true
		}
	}
	if !sawFinished {
		t.Fatal("no battle_finished event published")
	}
}

func TestTieWhenScoresEqual(t *testing.T) {
	ctx := context.Background()
	m, settler, _ := newTestManager(t, Windows{
		Confirm: 5 * time.Second, Question: 5 * time.Second,
		Battle: 30 * time.Second, QuestionCount: 3,
	})

	id, _ := m.StartBattle(ctx, testTier(), "alice", "bob")
	m.Confirm(ctx, id, "alice")
	m.Confirm(ctx, id, "bob")
	for i := 0; i < 3; i++ {
		m.SubmitAnswer(ctx, id, "alice", i, 1)
		m.SubmitAnswer(ctx, id, "bob", i, 1)
	}

	b := waitSettled(t, settler)
	if !b.Tie || b.WinnerID != "" {
		t.Fatalf("want tie, got winner=%q tie=%v", b.WinnerID, b.Tie)
	}
}

func TestAnswerValidation(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t, Windows{
		Confirm: 5 * time.Second, Question: 5 * time.Second,
		Battle: 30 * time.Second, QuestionCount: 3,
	})

	id, _ := m.StartBattle(ctx, testTier(), "alice", "bob")

	if err := m.SubmitAnswer(ctx, id, "alice", 0, 1); !errors.Is(err, ErrWrongPhase) {
		t.Fatalf("answer before start err = %v, want ErrWrongPhase", err)
	}
	if err := m.Confirm(ctx, id, "mallory"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("outsider confirm err = %v", err)
	}

	m.Confirm(ctx, id, "alice")
	m.Confirm(ctx, id, "bob")

	if err := m.SubmitAnswer(ctx, id, "alice", 1, 1); !errors.Is(err, ErrQuestionClosed) {
		t.Fatalf("future question err = %v, want ErrQuestionClosed", err)
	}
	if err := m.SubmitAnswer(ctx, id, "alice", 0, 9); !errors.Is(err, ErrInvalidChoice) {
		t.Fatalf("bad choice err = %v, want ErrInvalidChoice", err)
	}
	if err := m.SubmitAnswer(ctx, id, "alice", 0, 0); err != nil {
		t.Fatalf("first answer: %v", err)
	}
	if err := m.SubmitAnswer(ctx, id, "alice", 0, 1); !errors.Is(err, ErrAlreadyAnswered) {
		t.Fatalf("second answer err = %v, want ErrAlreadyAnswered", err)
	}

	// first answer stands even though it was wrong
	b, _ := m.Get(id)
	if b.Scores["alice"] != 0 {
		t.Fatalf("score = %d, want 0", b.Scores["alice"])
	}
}

func TestConfirmTimeoutCancels(t *testing.T) {
	ctx := context.Background()
	settler := &recordSettler{done: make(chan *Battle, 1)}
	pub := &capturePub{}
	m := NewManager(&fakeProvider{questions: threeQuestions()}, settler, pub, nil, Windows{
		Confirm: 50 * time.Millisecond, Question: 5 * time.Second,
		Battle: 30 * time.Second, QuestionCount: 3,
	})
	t.Cleanup(m.Close)

	id, _ := m.StartBattle(ctx, testTier(), "alice", "bob")
	m.Confirm(ctx, id, "alice") // bob never shows up

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := m.Get(id); errors.Is(err, ErrBattleNotFound) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("battle was not torn down after confirm timeout")
		}
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case <-settler.done:
		t.Fatal("cancelled battle must not settle")
	default:
	}

	var cancelled bool
	pub.mu.Lock()
	for _, ev := range pub.events {
		if ev.Kind == arenadto.EventPhaseChanged && ev.Phase != nil && ev.Phase.Phase == string(PhaseCancelled) {
			cancelled = true
		}
	}
	pub.mu.Unlock()
	if !cancelled {
		t.Fatal("no cancelled phase event published")
	}
}

func TestQuestionTimeoutAdvances(t *testing.T) {
	ctx := context.Background()
	settler := &recordSettler{done: make(chan *Battle, 1)}
	m := NewManager(&fakeProvider{questions: threeQuestions()}, settler, &capturePub{}, nil, Windows{
		Confirm: 5 * time.Second, Question: 60 * time.Millisecond,
		Battle: 30 * time.Second, QuestionCount: 3,
	})
	t.Cleanup(m.Close)

	id, _ := m.StartBattle(ctx, testTier(), "alice", "bob")
	m.Confirm(ctx, id, "alice")
	m.Confirm(ctx, id, "bob")

	// alice answers the first question, bob stays silent everywhere.
	if err := m.SubmitAnswer(ctx, id, "alice", 0, 1); err != nil {
		t.Fatalf("alice q0: %v", err)
	}

	b := waitSettled(t, settler)
	if b.Phase != PhaseFinished {
		t.Fatalf("phase = %s, want finished after timeouts", b.Phase)
	}
	if b.WinnerID != "alice" {
		t.Fatalf("winner = %q, want alice", b.WinnerID)
	}
	if got := b.CorrectCount("bob"); got != 0 {
		t.Fatalf("bob correct = %d, want 0", got)
	}
	if b.Answers["bob"][0] != -1 {
		t.Fatalf("bob q0 answer = %d, want unanswered", b.Answers["bob"][0])
	}
}

type gatedSettler struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gatedSettler) Settle(_ context.Context, _ *Battle) error {
	close(g.entered)
	<-g.release
	return nil
}

func TestGetWhileSettlementInFlight(t *testing.T) {
	ctx := context.Background()
	settler := &gatedSettler{entered: make(chan struct{}), release: make(chan struct{})}
	m := NewManager(&fakeProvider{questions: threeQuestions()}, settler, &capturePub{}, nil, Windows{
		Confirm: 5 * time.Second, Question: 5 * time.Second,
		Battle: 30 * time.Second, QuestionCount: 3,
	})
	t.Cleanup(m.Close)

	id, _ := m.StartBattle(ctx, testTier(), "alice", "bob")
	m.Confirm(ctx, id, "alice")
	m.Confirm(ctx, id, "bob")
	for i := 0; i < 3; i++ {
		m.SubmitAnswer(ctx, id, "alice", i, 1)
		m.SubmitAnswer(ctx, id, "bob", i, 0)
	}

	select {
	case <-settler.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("settlement never started")
	}

	// Snapshot the battle repeatedly while the settler holds it.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			b, err := m.Get(id)
			if err != nil {
				continue
			}
			if b.Phase != PhaseFinished {
				t.Errorf("snapshot phase = %s, want finished", b.Phase)
				return
			}
			if b.Settlement != SettlementPending && b.Settlement != SettlementApplied {
				t.Errorf("snapshot settlement = %s", b.Settlement)
				return
			}
		}
	}()

	time.Sleep(50 * time.Millisecond)
	close(settler.release)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := m.Get(id); errors.Is(err, ErrBattleNotFound) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("battle not removed after settlement")
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(stop)
	wg.Wait()
}

func TestStartBattleContentFailure(t *testing.T) {
	boom := errors.New("upstream down")
	m := NewManager(&fakeProvider{fail: boom}, nil, nil, nil, Windows{
		Confirm: time.Second, Question: time.Second,
		Battle: time.Second, QuestionCount: 3,
	})
	t.Cleanup(m.Close)

	if _, err := m.StartBattle(context.Background(), testTier(), "a", "b"); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want provider failure", err)
	}
}
