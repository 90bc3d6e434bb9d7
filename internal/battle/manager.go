package battle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quizverse/arena-core/internal/content"
	"github.com/quizverse/arena-core/internal/economy"
	"github.com/quizverse/arena-core/internal/notify"
	"github.com/quizverse/arena-core/internal/obslog"
	"github.com/quizverse/arena-core/internal/profile"
	"github.com/quizverse/arena-core/pkg/arenadto"
)

// Settler applies the credit movement for a finished battle. It is
// invoked exactly once per battle, off the battle lock.
type Settler interface {
	Settle(ctx context.Context, b *Battle) error
}

// Presence records player status transitions; nil disables tracking.
type Presence interface {
	SetStatus(ctx context.Context, playerID string, st profile.Status) error
}

// Windows holds the server-owned timing rules for a battle.
type Windows struct {
	Confirm       time.Duration
	Question      time.Duration
	Battle        time.Duration
	QuestionCount int
}

type run struct {
	mu sync.Mutex
	b  *Battle

	confirmTimer  *time.Timer
	questionTimer *time.Timer
	battleTimer   *time.Timer
}

func (r *run) stopTimers() {
	for _, t := range []*time.Timer{r.confirmTimer, r.questionTimer, r.battleTimer} {
		if t != nil {
			t.Stop()
		}
	}
}

// Manager owns all live battles. Each battle runs under its own lock;
// the manager lock only guards the registry.
type Manager struct {
	mu   sync.Mutex
	runs map[string]*run

	provider content.Provider
	settler  Settler
	notifier notify.Publisher
	presence Presence
	windows  Windows

	contentRetries int
}

func NewManager(provider content.Provider, settler Settler, notifier notify.Publisher, presence Presence, windows Windows) *Manager {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Manager{
		runs:           make(map[string]*run),
		provider:       provider,
		settler:        settler,
		notifier:       notifier,
		presence:       presence,
		windows:        windows,
		contentRetries: 3,
	}
}

// StartBattle fetches a question set and creates a battle in its
// confirmation phase. Both players must Confirm before the window
// closes or the battle cancels with no credit movement.
func (m *Manager) StartBattle(ctx context.Context, tier economy.Tier, playerA, playerB string) (string, error) {
	questions, err := m.fetchQuestions(ctx)
	if err != nil {
		return "", fmt.Errorf("question set: %w", err)
	}

	now := time.Now()
	b := &Battle{
		ID:         uuid.NewString(),
		Tier:       tier,
		Players:    [2]string{playerA, playerB},
		Questions:  questions,
		Phase:      PhaseConfirming,
		Settlement: SettlementPending,
		Answers: map[string][]int{
			playerA: filledSlice(len(questions), unanswered),
			playerB: filledSlice(len(questions), unanswered),
		},
		Scores:        map[string]int{playerA: 0, playerB: 0},
		Confirmed:     map[string]bool{},
		CreatedAt:     now,
		PhaseDeadline: now.Add(m.windows.Confirm),
	}

	r := &run{b: b}
	r.confirmTimer = time.AfterFunc(m.windows.Confirm, func() { m.onConfirmDeadline(b.ID) })

	m.mu.Lock()
	m.runs[b.ID] = r
	m.mu.Unlock()

	m.setStatus(ctx, playerA, profile.StatusConfirming)
	m.setStatus(ctx, playerB, profile.StatusConfirming)

	m.publish(ctx, arenadto.Event{
		Kind:     arenadto.EventMatched,
		BattleID: b.ID,
		Players:  b.Players[:],
		Matched:  &arenadto.MatchedPayload{Tier: tier.Name, PlayerA: playerA, PlayerB: playerB},
	})
	m.publish(ctx, arenadto.Event{
		Kind:     arenadto.EventPhaseChanged,
		BattleID: b.ID,
		Players:  b.Players[:],
		Phase:    &arenadto.PhasePayload{Phase: string(PhaseConfirming), Deadline: b.PhaseDeadline},
	})

	obslog.L().Info("battle_created",
		zap.String("battle", b.ID),
		zap.String("tier", tier.Name),
		zap.String("player_a", playerA),
		zap.String("player_b", playerB),
		zap.Int("questions", len(questions)))
	return b.ID, nil
}

func (m *Manager) fetchQuestions(ctx context.Context) ([]content.Question, error) {
	var lastErr error
	for attempt := 0; attempt < m.contentRetries; attempt++ {
		qs, err := m.provider.GetQuestions(ctx, m.windows.QuestionCount)
		if err == nil {
			return qs, nil
		}
		lastErr = err
		obslog.L().Warn("content_fetch_failed",
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return nil, lastErr
}

// Confirm records a player's readiness. The second confirmation moves
// the battle in progress and opens the first question.
func (m *Manager) Confirm(ctx context.Context, battleID, playerID string) error {
	r, err := m.run(battleID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.b
	if !b.hasPlayer(playerID) {
		return ErrNotParticipant
	}
	if b.Phase != PhaseConfirming {
		return ErrWrongPhase
	}
	if b.Confirmed[playerID] {
		return nil // idempotent
	}
	b.Confirmed[playerID] = true
	obslog.L().Info("battle_confirm",
		zap.String("battle", b.ID),
		zap.String("player", playerID))

	if !b.Confirmed[b.Players[0]] || !b.Confirmed[b.Players[1]] {
		return nil
	}

	now := time.Now()
	b.Phase = PhaseInProgress
	b.StartedAt = now
	b.Current = 0
	b.PhaseDeadline = now.Add(m.windows.Question)

	r.confirmTimer.Stop()
	r.battleTimer = time.AfterFunc(m.windows.Battle, func() { m.onBattleDeadline(b.ID) })
	m.armQuestionTimer(r, 0)

	m.setStatus(ctx, b.Players[0], profile.StatusInBattle)
	m.setStatus(ctx, b.Players[1], profile.StatusInBattle)

	m.publish(ctx, arenadto.Event{
		Kind:     arenadto.EventPhaseChanged,
		BattleID: b.ID,
		Players:  b.Players[:],
		Phase:    &arenadto.PhasePayload{Phase: string(PhaseInProgress), Deadline: b.PhaseDeadline},
	})
	m.publishQuestion(ctx, b)
	return nil
}

// SubmitAnswer records playerID's choice for the currently open
// question. The first recorded answer is final; once both players have
// answered the battle advances immediately.
func (m *Manager) SubmitAnswer(ctx context.Context, battleID, playerID string, questionIndex, choice int) error {
	r, err := m.run(battleID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.b
	if !b.hasPlayer(playerID) {
		return ErrNotParticipant
	}
	if b.Phase != PhaseInProgress {
		return ErrWrongPhase
	}
	if questionIndex != b.Current {
		return ErrQuestionClosed
	}
	q := b.Questions[b.Current]
	if choice < 0 || choice >= len(q.Choices) {
		return ErrInvalidChoice
	}
	if b.Answers[playerID][b.Current] != unanswered {
		return ErrAlreadyAnswered
	}

	b.Answers[playerID][b.Current] = choice
	if choice == q.Answer {
		b.Scores[playerID]++
	}
	obslog.L().Debug("battle_answer",
		zap.String("battle", b.ID),
		zap.String("player", playerID),
		zap.Int("question", questionIndex),
		zap.Bool("correct", choice == q.Answer))

	if b.Answers[b.Opponent(playerID)][b.Current] != unanswered {
		m.advanceLocked(ctx, r)
	}
	return nil
}

// advanceLocked moves to the next question or finalizes after the
// last one. Caller holds r.mu.
func (m *Manager) advanceLocked(ctx context.Context, r *run) {
	b := r.b
	if r.questionTimer != nil {
		r.questionTimer.Stop()
	}
	b.Current++
	if b.Current >= len(b.Questions) {
		m.finalizeLocked(ctx, r)
		return
	}
	b.PhaseDeadline = time.Now().Add(m.windows.Question)
	m.armQuestionTimer(r, b.Current)
	m.publishQuestion(ctx, b)
}

func (m *Manager) armQuestionTimer(r *run, index int) {
	r.questionTimer = time.AfterFunc(m.windows.Question, func() {
		m.onQuestionDeadline(r.b.ID, index)
	})
}

// onQuestionDeadline closes a question that ran out the clock. Missing
// answers simply stay unanswered and score as incorrect.
func (m *Manager) onQuestionDeadline(battleID string, index int) {
	r, err := m.run(battleID)
	if err != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.b.Phase != PhaseInProgress || r.b.Current != index {
		return // already advanced
	}
	obslog.L().Info("question_timeout",
		zap.String("battle", battleID),
		zap.Int("question", index))
	m.advanceLocked(context.Background(), r)
}

// onBattleDeadline ends a battle that exceeded its overall window.
// Whatever is on the scoreboard stands.
func (m *Manager) onBattleDeadline(battleID string) {
	r, err := m.run(battleID)
	if err != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.b.Phase != PhaseInProgress {
		return
	}
	obslog.L().Info("battle_timeout", zap.String("battle", battleID))
	m.finalizeLocked(context.Background(), r)
}

func (m *Manager) onConfirmDeadline(battleID string) {
	r, err := m.run(battleID)
	if err != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.b.Phase != PhaseConfirming {
		return
	}
	m.cancelLocked(context.Background(), r, "confirm_timeout")
}

// finalizeLocked closes the battle, decides the outcome and hands it
// to the settler on a fresh goroutine. Caller holds r.mu.
func (m *Manager) finalizeLocked(ctx context.Context, r *run) {
	b := r.b
	r.stopTimers()
	b.Phase = PhaseFinished
	b.FinishedAt = time.Now()

	sa, sb := b.Scores[b.Players[0]], b.Scores[b.Players[1]]
	switch {
	case sa > sb:
		b.WinnerID = b.Players[0]
	case sb > sa:
		b.WinnerID = b.Players[1]
	default:
		b.Tie = true
	}

	m.publish(ctx, arenadto.Event{
		Kind:     arenadto.EventBattleFinished,
		BattleID: b.ID,
		Players:  b.Players[:],
		Finished: &arenadto.FinishedPayload{
			Scores:   map[string]int{b.Players[0]: sa, b.Players[1]: sb},
			WinnerID: b.WinnerID,
			Tie:      b.Tie,
		},
	})
	obslog.L().Info("battle_finished",
		zap.String("battle", b.ID),
		zap.String("winner", b.WinnerID),
		zap.Bool("tie", b.Tie),
		zap.Int("score_a", sa),
		zap.Int("score_b", sb))

	m.setStatus(ctx, b.Players[0], profile.StatusIdle)
	m.setStatus(ctx, b.Players[1], profile.StatusIdle)

	go m.settle(r)
}

// settle runs once per finished battle. The battle left finalizeLocked
// in a terminal phase, so the settler reads it freely; the Settlement
// field is the one post-finalize write and happens under r.mu because
// Get may still snapshot the battle while it is in the registry.
func (m *Manager) settle(r *run) {
	b := r.b
	defer m.remove(b.ID)
	if m.settler == nil {
		return
	}
	err := m.settler.Settle(context.Background(), b)
	r.mu.Lock()
	if err != nil {
		b.Settlement = SettlementFailed
	} else {
		b.Settlement = SettlementApplied
	}
	r.mu.Unlock()
	if err != nil {
		obslog.L().Error("settlement_failed",
			zap.String("battle", b.ID),
			zap.Error(err))
	}
}

// cancelLocked tears a battle down with no credit movement.
func (m *Manager) cancelLocked(ctx context.Context, r *run, reason string) {
	b := r.b
	r.stopTimers()
	b.Phase = PhaseCancelled
	b.FinishedAt = time.Now()

	m.setStatus(ctx, b.Players[0], profile.StatusIdle)
	m.setStatus(ctx, b.Players[1], profile.StatusIdle)
	m.publish(ctx, arenadto.Event{
		Kind:     arenadto.EventPhaseChanged,
		BattleID: b.ID,
		Players:  b.Players[:],
		Phase:    &arenadto.PhasePayload{Phase: string(PhaseCancelled)},
	})
	obslog.L().Info("battle_cancelled",
		zap.String("battle", b.ID),
		zap.String("reason", reason))
	go m.remove(b.ID)
}

// Get returns a snapshot of a live battle.
func (m *Manager) Get(battleID string) (Battle, error) {
	r, err := m.run(battleID)
	if err != nil {
		return Battle{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return snapshot(r.b), nil
}

// Close stops every timer; in-flight battles are abandoned.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		r.mu.Lock()
		r.stopTimers()
		r.mu.Unlock()
	}
	m.runs = make(map[string]*run)
}

func (m *Manager) run(battleID string) (*run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[battleID]
	if !ok {
		return nil, ErrBattleNotFound
	}
	return r, nil
}

func (m *Manager) remove(battleID string) {
	m.mu.Lock()
	delete(m.runs, battleID)
	m.mu.Unlock()
}

func (m *Manager) publishQuestion(ctx context.Context, b *Battle) {
	m.publish(ctx, arenadto.Event{
		Kind:     arenadto.EventQuestionAdvanced,
		BattleID: b.ID,
		Players:  b.Players[:],
		Question: &arenadto.QuestionPayload{
			Index:    b.Current,
			Total:    len(b.Questions),
			Deadline: b.PhaseDeadline,
		},
	})
}

func (m *Manager) publish(ctx context.Context, ev arenadto.Event) {
	if err := m.notifier.Publish(ctx, ev); err != nil {
		obslog.L().Warn("event_publish_failed",
			zap.String("kind", string(ev.Kind)),
			zap.String("battle", ev.BattleID),
			zap.Error(err))
	}
}

func (m *Manager) setStatus(ctx context.Context, playerID string, st profile.Status) {
	if m.presence == nil {
		return
	}
	if err := m.presence.SetStatus(ctx, playerID, st); err != nil {
		obslog.L().Warn("status_update_failed",
			zap.String("player", playerID),
			zap.Error(err))
	}
}

func snapshot(b *Battle) Battle {
	cp := *b
	cp.Answers = make(map[string][]int, len(b.Answers))
	for k, v := range b.Answers {
		cp.Answers[k] = append([]int(nil), v...)
	}
	cp.Scores = make(map[string]int, len(b.Scores))
	for k, v := range b.Scores {
		cp.Scores[k] = v
	}
	cp.Confirmed = make(map[string]bool, len(b.Confirmed))
	for k, v := range b.Confirmed {
		cp.Confirmed[k] = v
	}
	return cp
}

func filledSlice(n, v int) []int {
	s := make([]int, n)
	for i := range s {
		s[i] = v
	}
	return s
}
