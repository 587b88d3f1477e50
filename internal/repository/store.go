// Package repository implements persistence for the settlement engine on top
// of a document store keyed by collection and id.
//
// The store offers no multi-document transactions. Every cross-record update
// in the engine is a sequence of single-document writes, and writes that
// race with webhooks use MergeIf (compare-and-set) instead of blind merges.
package repository

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned by Create when the id is taken.
var ErrAlreadyExists = errors.New("already exists")

// Collection names.
const (
	Events        = "events"
	Bookings      = "bookings"
	Payments      = "payments"
	Refunds       = "refunds"
	Withdrawals   = "withdrawals"
	Promotions    = "promotions"
	WebhookEvents = "webhook_events"
)

// Fields is a partial document: top-level field name to value. Values are
// encoded with encoding/json before they are stored or compared.
type Fields map[string]any

// Op is a query comparison operator.
type Op string

const (
	Eq Op = "=="
	Lt Op = "<"
	Gt Op = ">"
)

// Filter restricts a query to documents whose top-level Field compares to
// Value with Op. Range operators understand numbers, decimals, strings and
// time.Time values.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Where builds a Filter.
func Where(field string, op Op, value any) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

// Store is the narrow document-store contract the engine consumes.
type Store interface {
	// NewID returns a fresh store-generated id for collection.
	NewID(collection string) string
	// Get decodes the document into dst or returns ErrNotFound.
	Get(ctx context.Context, collection, id string, dst any) error
	// Create stores doc only if id is free, otherwise ErrAlreadyExists.
	Create(ctx context.Context, collection, id string, doc any) error
	// Put stores doc, replacing any existing document.
	Put(ctx context.Context, collection, id string, doc any) error
	// Merge overwrites the given top-level fields. ErrNotFound if absent.
	Merge(ctx context.Context, collection, id string, fields Fields) error
	// MergeIf overwrites fields only when every expect field equals the
	// stored value. It reports whether the write happened. Expectations
	// must be scalars.
	MergeIf(ctx context.Context, collection, id string, expect, fields Fields) (bool, error)
	// Increment atomically adds delta to a numeric field, preserving whether
	// it is stored as a JSON number or a decimal string.
	Increment(ctx context.Context, collection, id, field string, delta decimal.Decimal) error
	// Query decodes all matching documents, oldest first, into dst, which
	// must be a pointer to a slice.
	Query(ctx context.Context, collection string, filters []Filter, dst any) error
}
