package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/settlement-engine/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreCreateGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	e := &model.Event{ID: "ev-1", Title: "Walk", Price: decimal.RequireFromString("1000.50"), TotalSpaces: 5, AvailableSpaces: 5}
	require.NoError(t, s.Create(ctx, Events, e.ID, e))
	require.ErrorIs(t, s.Create(ctx, Events, e.ID, e), ErrAlreadyExists)

	var got model.Event
	require.NoError(t, s.Get(ctx, Events, "ev-1", &got))
	require.Equal(t, "Walk", got.Title)
	require.True(t, e.Price.Equal(got.Price))

	require.ErrorIs(t, s.Get(ctx, Events, "missing", &got), ErrNotFound)
	require.ErrorIs(t, s.Merge(ctx, Events, "missing", Fields{"title": "x"}), ErrNotFound)
}

func TestMemoryStoreMergeIf(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, Payments, "p1", &model.Payment{ID: "p1", Status: model.PaymentPending}))

	ok, err := s.MergeIf(ctx, Payments, "p1", Fields{"status": model.PaymentPending}, Fields{"status": model.PaymentCompleted})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.MergeIf(ctx, Payments, "p1", Fields{"status": model.PaymentPending}, Fields{"status": model.PaymentCancelled})
	require.NoError(t, err)
	require.False(t, ok, "second transition out of pending must lose")

	var p model.Payment
	require.NoError(t, s.Get(ctx, Payments, "p1", &p))
	require.Equal(t, model.PaymentCompleted, p.Status)
}

func TestMemoryStoreMergeIfSingleWinner(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, Payments, "p1", &model.Payment{ID: "p1", Status: model.PaymentCompleted}))

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.MergeIf(ctx, Payments, "p1", Fields{"balanceCredited": false}, Fields{"balanceCredited": true})
			require.NoError(t, err)
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, winners)
}

func TestMemoryStoreIncrement(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, Events, "ev-1", &model.Event{
		ID:                "ev-1",
		AvailableSpaces:   10,
		CollectionBalance: decimal.Zero,
	}))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, s.Increment(ctx, Events, "ev-1", "collectionBalance", decimal.RequireFromString("0.1")))
		}()
	}
	wg.Wait()
	require.NoError(t, s.Increment(ctx, Events, "ev-1", "availableSpaces", decimal.NewFromInt(-3)))

	var e model.Event
	require.NoError(t, s.Get(ctx, Events, "ev-1", &e))
	require.True(t, decimal.NewFromInt(10).Equal(e.CollectionBalance), "decimal strings add exactly, got %s", e.CollectionBalance)
	require.Equal(t, 7, e.AvailableSpaces)

	require.Error(t, s.Increment(ctx, Events, "ev-1", "title", decimal.NewFromInt(1)))
	require.ErrorIs(t, s.Increment(ctx, Events, "missing", "availableSpaces", decimal.NewFromInt(1)), ErrNotFound)
}

func TestMemoryStoreQuery(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, status := range []model.PaymentStatus{model.PaymentPending, model.PaymentCompleted, model.PaymentPending, model.PaymentPending} {
		p := &model.Payment{
			ID:        string(rune('a' + i)),
			EventID:   "ev-1",
			Status:    status,
			Amount:    decimal.NewFromInt(int64(100 * (i + 1))),
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}
		require.NoError(t, s.Create(ctx, Payments, p.ID, p))
	}

	tests := []struct {
		name    string
		filters []Filter
		want    []string
	}{
		{name: "all, oldest first", want: []string{"a", "b", "c", "d"}},
		{name: "by status", filters: []Filter{Where("status", Eq, model.PaymentPending)}, want: []string{"a", "c", "d"}},
		{name: "time range", filters: []Filter{Where("createdAt", Lt, base.Add(150 * time.Minute))}, want: []string{"a", "b", "c"}},
		{name: "decimal range", filters: []Filter{Where("amount", Gt, decimal.NewFromInt(250))}, want: []string{"c", "d"}},
		{name: "combined", filters: []Filter{Where("status", Eq, model.PaymentPending), Where("createdAt", Gt, base)}, want: []string{"c", "d"}},
		{name: "no match", filters: []Filter{Where("eventId", Eq, "ev-2")}, want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []model.Payment
			require.NoError(t, s.Query(ctx, Payments, tt.filters, &got))
			ids := []string{}
			for _, p := range got {
				ids = append(ids, p.ID)
			}
			require.Equal(t, tt.want, ids)
		})
	}
}

func TestRepositoriesFlow(t *testing.T) {
	repos := New(NewMemoryStore())
	ctx := context.Background()

	w := &model.Withdrawal{EventReference: "ev-1", Amount: decimal.NewFromInt(50), Status: model.WithdrawalPending}
	require.NoError(t, repos.Withdrawals.Create(ctx, w))

	ok, err := repos.Withdrawals.AssignTransferReference(ctx, w.ID, "payout_1")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = repos.Withdrawals.AssignTransferReference(ctx, w.ID, "payout_2")
	require.NoError(t, err)
	require.False(t, ok, "the reference is fixed on first assignment")

	found, err := repos.Withdrawals.FindByTransferReference(ctx, "payout_1")
	require.NoError(t, err)
	require.Equal(t, w.ID, found.ID)
	_, err = repos.Withdrawals.FindByTransferReference(ctx, "payout_2")
	require.ErrorIs(t, err, ErrNotFound)

	ok, err = repos.Withdrawals.Reject(ctx, w.ID, "admin", "", time.Now())
	require.NoError(t, err)
	require.False(t, ok, "withdrawals with a transfer attempt cannot be rejected")

	open, err := repos.Withdrawals.ListByEvent(ctx, "ev-1", model.WithdrawalPending, model.WithdrawalProcessing)
	require.NoError(t, err)
	require.Len(t, open, 1)
}
