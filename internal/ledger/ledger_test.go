package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	m, err := NewManager(fmt.Sprintf("redis://%s/0", mr.Addr()))
	if err != nil {
		t.Fatalf("ledger.NewManager: %v", err)
	}
	return m
}

func TestDepositAndBalance(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	applied, err := m.Deposit(ctx, "u1", 100, "dep-1")
	if err != nil || !applied {
		t.Fatalf("Deposit: applied=%v err=%v", applied, err)
	}
	bal, err := m.GetBalance(ctx, "u1")
	if err != nil || bal != 100 {
		t.Fatalf("GetBalance: %d err=%v", bal, err)
	}
	// duplicate delivery of the same deposit is a no-op
	applied, err = m.Deposit(ctx, "u1", 100, "dep-1")
	if err != nil || applied {
		t.Fatalf("duplicate Deposit: applied=%v err=%v", applied, err)
	}
	if bal, _ = m.GetBalance(ctx, "u1"); bal != 100 {
		t.Fatalf("duplicate deposit changed balance: %d", bal)
	}
}

func TestUnknownPlayerBalanceIsZero(t *testing.T) {
	m := newTestManager(t)
	bal, err := m.GetBalance(context.Background(), "nobody")
	if err != nil || bal != 0 {
		t.Fatalf("expected zero balance, got %d err=%v", bal, err)
	}
}

func TestMultiLegTransactionIsAtomic(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	if _, err := m.Deposit(ctx, "a", 50, "dep-a"); err != nil {
		t.Fatalf("Deposit a: %v", err)
	}
	if _, err := m.Deposit(ctx, "b", 50, "dep-b"); err != nil {
		t.Fatalf("Deposit b: %v", err)
	}

	entries := []Entry{
		{PlayerID: "a", Delta: -50, Reason: ReasonEntryFee, BattleID: "bt-1"},
		{PlayerID: "b", Delta: -50, Reason: ReasonEntryFee, BattleID: "bt-1"},
		{PlayerID: "a", Delta: 80, Reason: ReasonPrize, BattleID: "bt-1"},
	}
	applied, err := m.ApplyTransaction(ctx, entries, "battle:bt-1")
	if err != nil || !applied {
		t.Fatalf("ApplyTransaction: applied=%v err=%v", applied, err)
	}
	balA, _ := m.GetBalance(ctx, "a")
	balB, _ := m.GetBalance(ctx, "b")
	if balA != 80 || balB != 0 {
		t.Fatalf("unexpected balances a=%d b=%d", balA, balB)
	}

	// re-applying the same battle settlement must change nothing
	applied, err = m.ApplyTransaction(ctx, entries, "battle:bt-1")
	if err != nil || applied {
		t.Fatalf("replay: applied=%v err=%v", applied, err)
	}
	balA2, _ := m.GetBalance(ctx, "a")
	balB2, _ := m.GetBalance(ctx, "b")
	if balA2 != balA || balB2 != balB {
		t.Fatalf("replay changed balances: a=%d b=%d", balA2, balB2)
	}
}

func TestInsufficientFundsAppliesNoLeg(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	if _, err := m.Deposit(ctx, "rich", 100, "dep-rich"); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	// "poor" has no balance; the debit leg must reject the whole batch
	entries := []Entry{
		{PlayerID: "rich", Delta: -50, Reason: ReasonEntryFee, BattleID: "bt-2"},
		{PlayerID: "poor", Delta: -50, Reason: ReasonEntryFee, BattleID: "bt-2"},
		{PlayerID: "rich", Delta: 80, Reason: ReasonPrize, BattleID: "bt-2"},
	}
	_, err := m.ApplyTransaction(ctx, entries, "battle:bt-2")
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if bal, _ := m.GetBalance(ctx, "rich"); bal != 100 {
		t.Fatalf("partial leg applied: rich=%d", bal)
	}
	if bal, _ := m.GetBalance(ctx, "poor"); bal != 0 {
		t.Fatalf("partial leg applied: poor=%d", bal)
	}
	// the failed attempt must not burn the idempotency key
	if _, err := m.Deposit(ctx, "poor", 50, "dep-poor"); err != nil {
		t.Fatalf("Deposit poor: %v", err)
	}
	applied, err := m.ApplyTransaction(ctx, entries, "battle:bt-2")
	if err != nil || !applied {
		t.Fatalf("retry after funding: applied=%v err=%v", applied, err)
	}
}

func TestEntriesLogNewestFirst(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		if _, err := m.Deposit(ctx, "u1", int64(i*10), fmt.Sprintf("dep-%d", i)); err != nil {
			t.Fatalf("Deposit %d: %v", i, err)
		}
	}
	got, err := m.Entries(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(got) != 2 || got[0].Delta != 30 || got[1].Delta != 20 {
		t.Fatalf("unexpected entries: %+v", got)
	}
}

func TestRejectsMalformedTransactions(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	if _, err := m.ApplyTransaction(ctx, nil, "k"); !errors.Is(err, ErrEmptyTransaction) {
		t.Fatalf("expected ErrEmptyTransaction, got %v", err)
	}
	if _, err := m.ApplyTransaction(ctx, []Entry{{PlayerID: "u", Delta: 0}}, "k"); !errors.Is(err, ErrInvalidEntry) {
		t.Fatalf("expected ErrInvalidEntry for zero delta, got %v", err)
	}
	if _, err := m.ApplyTransaction(ctx, []Entry{{PlayerID: "u", Delta: 1}}, " "); !errors.Is(err, ErrInvalidEntry) {
		t.Fatalf("expected ErrInvalidEntry for empty key, got %v", err)
	}
}
