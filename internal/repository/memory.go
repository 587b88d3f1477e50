package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type memDoc struct {
	seq    int64
	fields map[string]any
}

// MemoryStore is an in-process Store used by tests and by `STORE=memory`.
// Documents are kept in their JSON-decoded form so comparisons behave like
// the PostgreSQL JSONB store.
type MemoryStore struct {
	mu   sync.RWMutex
	seq  int64
	docs map[string]map[string]*memDoc
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]map[string]*memDoc)}
}

func (s *MemoryStore) NewID(collection string) string {
	return uuid.New().String()
}

func (s *MemoryStore) Get(ctx context.Context, collection, id string, dst any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.docs[collection][id]
	if !ok {
		return ErrNotFound
	}
	return decodeInto(d.fields, dst)
}

func (s *MemoryStore) Create(ctx context.Context, collection, id string, doc any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fields, err := normalize(doc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[collection][id]; ok {
		return ErrAlreadyExists
	}
	s.insert(collection, id, fields)
	return nil
}

func (s *MemoryStore) Put(ctx context.Context, collection, id string, doc any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fields, err := normalize(doc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if d, ok := s.docs[collection][id]; ok {
		d.fields = fields
		return nil
	}
	s.insert(collection, id, fields)
	return nil
}

func (s *MemoryStore) Merge(ctx context.Context, collection, id string, fields Fields) error {
	_, err := s.mergeIf(ctx, collection, id, nil, fields)
	return err
}

func (s *MemoryStore) MergeIf(ctx context.Context, collection, id string, expect, fields Fields) (bool, error) {
	return s.mergeIf(ctx, collection, id, expect, fields)
}

func (s *MemoryStore) mergeIf(ctx context.Context, collection, id string, expect, fields Fields) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	patch, err := normalize(fields)
	if err != nil {
		return false, err
	}
	want, err := normalize(expect)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[collection][id]
	if !ok {
		return false, ErrNotFound
	}
	for k, v := range want {
		if !reflect.DeepEqual(d.fields[k], v) {
			return false, nil
		}
	}
	for k, v := range patch {
		d.fields[k] = v
	}
	return true, nil
}

func (s *MemoryStore) Increment(ctx context.Context, collection, id, field string, delta decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[collection][id]
	if !ok {
		return ErrNotFound
	}
	current, isString, err := toDecimal(d.fields[field])
	if err != nil {
		return fmt.Errorf("increment %s.%s: %w", collection, field, err)
	}
	next := current.Add(delta)
	if isString {
		d.fields[field] = next.String()
	} else {
		f, _ := next.Float64()
		d.fields[field] = f
	}
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, collection string, filters []Filter, dst any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	matched := make([]*memDoc, 0)
	for _, d := range s.docs[collection] {
		ok, err := matches(d.fields, filters)
		if err != nil {
			s.mu.RUnlock()
			return err
		}
		if ok {
			matched = append(matched, d)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })

	list := make([]map[string]any, 0, len(matched))
	for _, d := range matched {
		list = append(list, d.fields)
	}
	raw, err := json.Marshal(list)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode %s query result: %w", collection, err)
	}
	return json.Unmarshal(raw, dst)
}

func (s *MemoryStore) insert(collection, id string, fields map[string]any) {
	if s.docs[collection] == nil {
		s.docs[collection] = make(map[string]*memDoc)
	}
	s.seq++
	s.docs[collection][id] = &memDoc{seq: s.seq, fields: fields}
}

// normalize round-trips v through JSON so values compare the same way no
// matter which Go type produced them.
func normalize(v any) (map[string]any, error) {
	if v == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("document must be a JSON object: %w", err)
	}
	return out, nil
}

func decodeInto(fields map[string]any, dst any) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

func toDecimal(v any) (decimal.Decimal, bool, error) {
	switch n := v.(type) {
	case nil:
		return decimal.Zero, false, nil
	case float64:
		return decimal.NewFromFloat(n), false, nil
	case string:
		d, err := decimal.NewFromString(n)
		return d, true, err
	default:
		return decimal.Zero, false, fmt.Errorf("field is %T, not numeric", v)
	}
}

func matches(fields map[string]any, filters []Filter) (bool, error) {
	for _, f := range filters {
		want, err := normalize(Fields{f.Field: f.Value})
		if err != nil {
			return false, err
		}
		got := fields[f.Field]
		switch f.Op {
		case Eq:
			if !reflect.DeepEqual(got, want[f.Field]) {
				return false, nil
			}
		case Lt, Gt:
			c, ok := compare(got, f.Value)
			if !ok {
				return false, nil
			}
			if (f.Op == Lt && c >= 0) || (f.Op == Gt && c <= 0) {
				return false, nil
			}
		default:
			return false, fmt.Errorf("unsupported operator %q", f.Op)
		}
	}
	return true, nil
}

// compare orders a stored JSON value against a filter value. ok is false
// when the two are not comparable.
func compare(stored, value any) (int, bool) {
	switch v := value.(type) {
	case time.Time:
		s, isString := stored.(string)
		if !isString {
			return 0, false
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return 0, false
		}
		return t.Compare(v), true
	case string:
		s, isString := stored.(string)
		if !isString {
			return 0, false
		}
		switch {
		case s < v:
			return -1, true
		case s > v:
			return 1, true
		}
		return 0, true
	default:
		want, err := numeric(value)
		if err != nil {
			return 0, false
		}
		got, _, err := toDecimal(stored)
		if err != nil || stored == nil {
			return 0, false
		}
		return got.Cmp(want), true
	}
}

func numeric(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, nil
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int64:
		return decimal.NewFromInt(n), nil
	case float64:
		return decimal.NewFromFloat(n), nil
	default:
		return decimal.Zero, fmt.Errorf("%T is not numeric", v)
	}
}
