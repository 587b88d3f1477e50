package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Shivanand-hulikatti/settlement-engine/internal/model"
	"github.com/Shivanand-hulikatti/settlement-engine/internal/repository"
	"github.com/shopspring/decimal"
)

// DriftReconciler recomputes an event's derived counters from its source
// records and corrects them. It is the safety net for a multi-step update
// that stopped half way, for example a process killed between marking a
// payment credited and crediting the event.
type DriftReconciler struct {
	repos *repository.Repositories
	log   *slog.Logger
}

// NewDriftReconciler constructs a DriftReconciler.
func NewDriftReconciler(repos *repository.Repositories, log *slog.Logger) *DriftReconciler {
	return &DriftReconciler{repos: repos, log: log}
}

// Reconcile recomputes availableSpaces and collectionBalance for eventID.
//
// Side effects that are still owed are adopted first: their markers are
// claimed here so a later webhook replay will not apply them again. After
// that, availableSpaces is totalSpaces minus the people of bookings holding
// capacity, and collectionBalance is the organizer share of credited
// payments not reversed by a cancellation, minus debited withdrawals.
func (d *DriftReconciler) Reconcile(ctx context.Context, eventID string) (*model.DriftReport, error) {
	if eventID == "" {
		return nil, invalid("event id is required")
	}
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		event, err := d.repos.Events.GetByID(ctx, eventID)
		if err != nil {
			return nil, lookupError("event", eventID, err)
		}

		held, err := d.heldSpaces(ctx, eventID)
		if err != nil {
			return nil, err
		}
		balance, err := d.balance(ctx, eventID)
		if err != nil {
			return nil, err
		}
		spaces := event.TotalSpaces - held

		report := &model.DriftReport{
			EventID:                 eventID,
			AvailableSpacesBefore:   event.AvailableSpaces,
			AvailableSpacesAfter:    spaces,
			CollectionBalanceBefore: event.CollectionBalance,
			CollectionBalanceAfter:  balance,
			Drifted:                 spaces != event.AvailableSpaces || !balance.Equal(event.CollectionBalance),
		}
		if !report.Drifted {
			return report, nil
		}
		ok, err := d.repos.Events.CorrectDerived(ctx, event, spaces, balance)
		if err != nil {
			return nil, fmt.Errorf("correct event %s: %w", eventID, err)
		}
		if ok {
			d.log.Warn("event drift corrected",
				"event_id", eventID,
				"spaces_before", report.AvailableSpacesBefore,
				"spaces_after", spaces,
				"balance_before", report.CollectionBalanceBefore.String(),
				"balance_after", balance.String(),
			)
			return report, nil
		}
	}
	return nil, fmt.Errorf("reconcile event %s: %w", eventID, ErrConflict)
}

func (d *DriftReconciler) heldSpaces(ctx context.Context, eventID string) (int, error) {
	bookings, err := d.repos.Bookings.ListByEvent(ctx, eventID)
	if err != nil {
		return 0, err
	}
	held := 0
	for _, b := range bookings {
		switch {
		case b.Status == model.BookingConfirmed && !b.CapacityHeld:
			if _, err := d.repos.Bookings.HoldCapacity(ctx, b.ID); err != nil {
				return 0, err
			}
			b.CapacityHeld = true
		case b.Status == model.BookingCancelled && b.CapacityHeld:
			if _, err := d.repos.Bookings.ReleaseCapacity(ctx, b.ID); err != nil {
				return 0, err
			}
			b.CapacityHeld = false
		}
		if b.CapacityHeld {
			held += b.NumberOfPeople
		}
	}
	return held, nil
}

func (d *DriftReconciler) balance(ctx context.Context, eventID string) (decimal.Decimal, error) {
	total := decimal.Zero

	bookings, err := d.repos.Bookings.ListByEvent(ctx, eventID)
	if err != nil {
		return total, err
	}
	cancelled := make(map[string]bool, len(bookings))
	for _, b := range bookings {
		cancelled[b.ID] = b.Status == model.BookingCancelled
	}

	payments, err := d.repos.Payments.ListByEvent(ctx, eventID, model.PaymentCompleted)
	if err != nil {
		return total, err
	}
	for _, p := range payments {
		if !creditsBalance(&p) {
			continue
		}
		if !p.BalanceCredited {
			if _, err := d.repos.Payments.SetBalanceCredited(ctx, p.ID, true); err != nil {
				return total, err
			}
		}
		// a cancelled booking's payments are refunded and owe the organizer nothing
		if cancelled[p.BookingID] && !p.BalanceReversed {
			if _, err := d.repos.Payments.SetBalanceReversed(ctx, p.ID, true); err != nil {
				return total, err
			}
			p.BalanceReversed = true
		}
		if !p.BalanceReversed {
			total = total.Add(p.OrganizerAmount)
		}
	}

	withdrawals, err := d.repos.Withdrawals.ListByEvent(ctx, eventID, model.WithdrawalCompleted)
	if err != nil {
		return total, err
	}
	for _, w := range withdrawals {
		if !w.BalanceDebited {
			if _, err := d.repos.Withdrawals.SetBalanceDebited(ctx, w.ID, true); err != nil {
				return total, err
			}
		}
		total = total.Sub(w.Amount)
	}
	return total, nil
}
