package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresStore keeps every collection in a single JSONB table:
//
//	documents(collection, id, doc jsonb, seq, created_at, updated_at)
//
// Each method is one statement, so each document write is atomic on its own.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) NewID(collection string) string {
	return uuid.New().String()
}

func (s *PostgresStore) Get(ctx context.Context, collection, id string, dst any) error {
	var raw []byte
	err := s.db.QueryRow(ctx,
		`SELECT doc FROM documents WHERE collection = $1 AND id = $2`,
		collection, id,
	).Scan(&raw)
	if err != nil {
		if isNoRows(err) {
			return ErrNotFound
		}
		return fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, collection, id string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}
	tag, err := s.db.Exec(ctx,
		`INSERT INTO documents (collection, id, doc)
		 VALUES ($1, $2, $3::jsonb)
		 ON CONFLICT (collection, id) DO NOTHING`,
		collection, id, string(raw),
	)
	if err != nil {
		return fmt.Errorf("insert %s/%s: %w", collection, id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *PostgresStore) Put(ctx context.Context, collection, id string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO documents (collection, id, doc)
		 VALUES ($1, $2, $3::jsonb)
		 ON CONFLICT (collection, id)
		 DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`,
		collection, id, string(raw),
	)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *PostgresStore) Merge(ctx context.Context, collection, id string, fields Fields) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode merge %s/%s: %w", collection, id, err)
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE documents SET doc = doc || $3::jsonb, updated_at = now()
		 WHERE collection = $1 AND id = $2`,
		collection, id, string(raw),
	)
	if err != nil {
		return fmt.Errorf("merge %s/%s: %w", collection, id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MergeIf relies on JSONB containment (@>), which is equality for scalar
// values. Missing keys never match.
func (s *PostgresStore) MergeIf(ctx context.Context, collection, id string, expect, fields Fields) (bool, error) {
	patch, err := json.Marshal(fields)
	if err != nil {
		return false, fmt.Errorf("encode merge %s/%s: %w", collection, id, err)
	}
	cond, err := json.Marshal(expect)
	if err != nil {
		return false, fmt.Errorf("encode condition %s/%s: %w", collection, id, err)
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE documents SET doc = doc || $3::jsonb, updated_at = now()
		 WHERE collection = $1 AND id = $2 AND doc @> $4::jsonb`,
		collection, id, string(patch), string(cond),
	)
	if err != nil {
		return false, fmt.Errorf("conditional merge %s/%s: %w", collection, id, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM documents WHERE collection = $1 AND id = $2)`,
		collection, id,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check %s/%s: %w", collection, id, err)
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

func (s *PostgresStore) Increment(ctx context.Context, collection, id, field string, delta decimal.Decimal) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE documents
		 SET doc = jsonb_set(doc, ARRAY[$3::text],
		     CASE WHEN jsonb_typeof(doc -> $3::text) = 'string'
		          THEN to_jsonb(trim_scale(COALESCE((doc ->> $3::text)::numeric, 0) + $4::numeric)::text)
		          ELSE to_jsonb(trim_scale(COALESCE((doc ->> $3::text)::numeric, 0) + $4::numeric))
		     END, true),
		     updated_at = now()
		 WHERE collection = $1 AND id = $2`,
		collection, id, field, delta.String(),
	)
	if err != nil {
		return fmt.Errorf("increment %s/%s.%s: %w", collection, id, field, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Query(ctx context.Context, collection string, filters []Filter, dst any) error {
	where, args, err := buildWhere(collection, filters)
	if err != nil {
		return err
	}
	rows, err := s.db.Query(ctx,
		`SELECT doc FROM documents WHERE `+where+` ORDER BY seq ASC`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("query %s: %w", collection, err)
	}
	defer rows.Close()

	var buf bytes.Buffer
	buf.WriteByte('[')
	n := 0
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return fmt.Errorf("scan %s: %w", collection, err)
		}
		if n > 0 {
			buf.WriteByte(',')
		}
		buf.Write(raw)
		n++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("query %s: %w", collection, err)
	}
	buf.WriteByte(']')

	return json.Unmarshal(buf.Bytes(), dst)
}

// buildWhere turns filters into a parameterised WHERE clause. Field names are
// passed as parameters, never interpolated.
func buildWhere(collection string, filters []Filter) (string, []any, error) {
	clauses := []string{"collection = $1"}
	args := []any{collection}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	for _, f := range filters {
		switch f.Op {
		case Eq:
			raw, err := json.Marshal(map[string]any{f.Field: f.Value})
			if err != nil {
				return "", nil, fmt.Errorf("encode filter %s: %w", f.Field, err)
			}
			clauses = append(clauses, "doc @> "+next(string(raw))+"::jsonb")
		case Lt, Gt:
			field := next(f.Field)
			var expr string
			switch v := f.Value.(type) {
			case time.Time:
				expr = fmt.Sprintf("(doc ->> %s::text)::timestamptz %s %s", field, f.Op, next(v))
			case string:
				expr = fmt.Sprintf("(doc ->> %s::text) %s %s::text", field, f.Op, next(v))
			default:
				d, err := numeric(v)
				if err != nil {
					return "", nil, fmt.Errorf("filter %s: %w", f.Field, err)
				}
				expr = fmt.Sprintf("(doc ->> %s::text)::numeric %s %s::numeric", field, f.Op, next(d.String()))
			}
			clauses = append(clauses, expr)
		default:
			return "", nil, fmt.Errorf("unsupported operator %q", f.Op)
		}
	}
	return strings.Join(clauses, " AND "), args, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
