package pending

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2/log"
)

// ErrNotFound is returned when no record with the requested TxRef exists.
var ErrNotFound = errors.New("pending payment not found")

// Store is one named slot holding every pending payment of a device. Whole
// list read and whole list overwrite are the only operations; callers do a
// full read, compute, overwrite and the last writer wins.
type Store interface {
	ReadAll(ctx context.Context) ([]PendingPayment, error)
	WriteAll(ctx context.Context, payments []PendingPayment) error
}

// Backend hands out slots and enumerates the non-empty ones so background
// reconciliation can resume after a restart.
type Backend interface {
	Slot(id string) Store
	Slots(ctx context.Context) ([]string, error)
}

// Load reads a slot, treating an unavailable or corrupt store as empty.
func Load(ctx context.Context, s Store) []PendingPayment {
	payments, err := s.ReadAll(ctx)
	if err != nil {
		log.Warnf("[Pending] Store unreadable, treating as empty: %v", err)
		return nil
	}
	return payments
}

// Find returns the record for txRef.
func Find(ctx context.Context, s Store, txRef string) (PendingPayment, error) {
	for _, p := range Load(ctx, s) {
		if p.TxRef == txRef {
			return p, nil
		}
	}
	return PendingPayment{}, ErrNotFound
}

// Save replaces any record with the same TxRef and appends p.
func Save(ctx context.Context, s Store, p PendingPayment) error {
	existing := Load(ctx, s)
	updated := make([]PendingPayment, 0, len(existing)+1)
	for _, e := range existing {
		if e.TxRef != p.TxRef {
			updated = append(updated, e)
		}
	}
	updated = append(updated, p)
	return s.WriteAll(ctx, updated)
}

// SaveIfPresent writes p back only when a record with its TxRef still exists,
// so a result that arrives after an expiry sweep does not resurrect it.
func SaveIfPresent(ctx context.Context, s Store, p PendingPayment) (bool, error) {
	existing := Load(ctx, s)
	found := false
	updated := make([]PendingPayment, 0, len(existing))
	for _, e := range existing {
		if e.TxRef == p.TxRef {
			found = true
			continue
		}
		updated = append(updated, e)
	}
	if !found {
		return false, nil
	}
	updated = append(updated, p)
	return true, s.WriteAll(ctx, updated)
}

// Remove deletes the record for txRef. Removing a missing record is not an error.
func Remove(ctx context.Context, s Store, txRef string) error {
	existing := Load(ctx, s)
	updated := make([]PendingPayment, 0, len(existing))
	for _, e := range existing {
		if e.TxRef != txRef {
			updated = append(updated, e)
		}
	}
	if len(updated) == len(existing) {
		return nil
	}
	return s.WriteAll(ctx, updated)
}
