// Package sqlite is the SQLite-backed local store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"
	_ "modernc.org/sqlite"

	"github.com/unkn0wn-root/offlinecache/codec"
	"github.com/unkn0wn-root/offlinecache/internal/sqlitemigrate"
	"github.com/unkn0wn-root/offlinecache/localdb"
	"github.com/unkn0wn-root/offlinecache/localdb/sqlite/migrations"
)

// a colliding log timestamp is bumped by 1ns at most this many times
const maxLogBumps = 1000

// Store persists the local collections in SQLite.
type Store struct {
	sqlDB   *sql.DB
	details codec.Protobuf[*structpb.Struct]
	now     func() time.Time
}

var _ localdb.Store = (*Store)(nil)

// Open opens (or creates) the database at path and applies migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one writer; keeps transactions strictly ordered
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.Apply(context.Background(), sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{
		sqlDB:   sqlDB,
		details: codec.NewProtobuf(func() *structpb.Struct { return &structpb.Struct{} }),
		now:     time.Now,
	}, nil
}

func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

func (s *Store) AddPendingOperation(ctx context.Context, op localdb.PendingOperation) (localdb.PendingOperation, error) {
	if err := s.ready(ctx); err != nil {
		return localdb.PendingOperation{}, err
	}
	op.URL = strings.TrimSpace(op.URL)
	op.Method = strings.ToUpper(strings.TrimSpace(op.Method))
	if op.URL == "" {
		return localdb.PendingOperation{}, fmt.Errorf("operation url is required")
	}
	if op.Method == "" {
		return localdb.PendingOperation{}, fmt.Errorf("operation method is required")
	}
	if len(op.Body) == 0 || !json.Valid(op.Body) {
		op.Body = json.RawMessage(`{}`)
	}
	if op.IdempotencyKey == "" {
		op.IdempotencyKey = uuid.NewString()
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = s.now()
	}
	op.CreatedAt = op.CreatedAt.UTC()

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return localdb.PendingOperation{}, fmt.Errorf("add pending operation: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO pending_operations (url, method, body, idempotency_key, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		op.URL, op.Method, string(op.Body), op.IdempotencyKey, op.CreatedAt.UnixMilli(),
	)
	if err != nil {
		_ = tx.Rollback()
		return localdb.PendingOperation{}, fmt.Errorf("add pending operation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		_ = tx.Rollback()
		return localdb.PendingOperation{}, fmt.Errorf("add pending operation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return localdb.PendingOperation{}, fmt.Errorf("add pending operation: commit: %w", err)
	}
	op.ID = id
	op.CreatedAt = time.UnixMilli(op.CreatedAt.UnixMilli()).UTC()
	return op, nil
}

func (s *Store) ListPendingOperations(ctx context.Context) ([]localdb.PendingOperation, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, url, method, body, idempotency_key, created_at
		   FROM pending_operations
		  ORDER BY id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending operations: %w", err)
	}
	defer rows.Close()

	var ops []localdb.PendingOperation
	for rows.Next() {
		var op localdb.PendingOperation
		var body string
		var createdAt int64
		if err := rows.Scan(&op.ID, &op.URL, &op.Method, &body, &op.IdempotencyKey, &createdAt); err != nil {
			return nil, fmt.Errorf("list pending operations: %w", err)
		}
		op.Body = json.RawMessage(body)
		op.CreatedAt = time.UnixMilli(createdAt).UTC()
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pending operations: %w", err)
	}
	return ops, nil
}

func (s *Store) DeletePendingOperation(ctx context.Context, id int64) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM pending_operations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete pending operation %d: %w", id, err)
	}
	return nil
}

func (s *Store) CountPendingOperations(ctx context.Context) (int, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	var n int
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_operations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending operations: %w", err)
	}
	return n, nil
}

func (s *Store) PutLots(ctx context.Context, lots []localdb.Lot) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if len(lots) == 0 {
		return nil
	}
	now := s.now().UTC().UnixMilli()

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("put lots: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO lots (id, lot_number, product_name, type, expiry_date, pn, quantity, image, payload, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   lot_number = excluded.lot_number,
		   product_name = excluded.product_name,
		   type = excluded.type,
		   expiry_date = excluded.expiry_date,
		   pn = excluded.pn,
		   quantity = excluded.quantity,
		   image = excluded.image,
		   payload = excluded.payload,
		   updated_at = excluded.updated_at`,
	)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("put lots: %w", err)
	}
	defer stmt.Close()

	for _, l := range lots {
		if strings.TrimSpace(l.ID) == "" {
			_ = tx.Rollback()
			return fmt.Errorf("put lots: %w: missing id", localdb.ErrInvalidLot)
		}
		payload := l.Raw
		if len(payload) == 0 {
			payload = json.RawMessage(`{}`)
		}
		if _, err := stmt.ExecContext(ctx,
			l.ID, l.LotNumber, l.ProductName, l.Type, l.ExpiryDate, l.PN, l.Quantity, l.Image,
			string(payload), now,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("put lot %s: %w", l.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("put lots: commit: %w", err)
	}
	return nil
}

const lotColumns = `id, lot_number, product_name, type, expiry_date, pn, quantity, image, payload, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanLot(row scanner) (localdb.Lot, error) {
	var l localdb.Lot
	var payload string
	var updatedAt int64
	if err := row.Scan(&l.ID, &l.LotNumber, &l.ProductName, &l.Type, &l.ExpiryDate, &l.PN,
		&l.Quantity, &l.Image, &payload, &updatedAt); err != nil {
		return localdb.Lot{}, err
	}
	l.Raw = json.RawMessage(payload)
	l.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return l, nil
}

func (s *Store) GetLot(ctx context.Context, id string) (localdb.Lot, error) {
	if err := s.ready(ctx); err != nil {
		return localdb.Lot{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return localdb.Lot{}, fmt.Errorf("lot id is required")
	}
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+lotColumns+` FROM lots WHERE id = ?`, id)
	l, err := scanLot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return localdb.Lot{}, localdb.ErrNotFound
		}
		return localdb.Lot{}, fmt.Errorf("get lot %s: %w", id, err)
	}
	return l, nil
}

// ListLots returns every lot, soonest expiry first.
func (s *Store) ListLots(ctx context.Context) ([]localdb.Lot, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+lotColumns+` FROM lots ORDER BY expiry_date ASC, product_name ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list lots: %w", err)
	}
	defer rows.Close()

	var lots []localdb.Lot
	for rows.Next() {
		l, err := scanLot(rows)
		if err != nil {
			return nil, fmt.Errorf("list lots: %w", err)
		}
		lots = append(lots, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list lots: %w", err)
	}
	return lots, nil
}

func (s *Store) AppendLog(ctx context.Context, e localdb.LogEntry) (localdb.LogEntry, error) {
	if err := s.ready(ctx); err != nil {
		return localdb.LogEntry{}, err
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	e.Timestamp = e.Timestamp.UTC()
	var details []byte
	if len(e.Details) > 0 {
		var err error
		if details, err = s.details.Encode(toStruct(e.Details)); err != nil {
			return localdb.LogEntry{}, fmt.Errorf("append log: details: %w", err)
		}
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return localdb.LogEntry{}, fmt.Errorf("append log: %w", err)
	}
	ts := e.Timestamp.UnixNano()
	for i := 0; ; i++ {
		if i == maxLogBumps {
			_ = tx.Rollback()
			return localdb.LogEntry{}, fmt.Errorf("append log: no free timestamp near %d", e.Timestamp.UnixNano())
		}
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO logs (timestamp_ns, level, message, details) VALUES (?, ?, ?, ?)`,
			ts, e.Level, e.Message, details,
		)
		if err != nil {
			_ = tx.Rollback()
			return localdb.LogEntry{}, fmt.Errorf("append log: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			break
		}
		ts++
	}
	if err := tx.Commit(); err != nil {
		return localdb.LogEntry{}, fmt.Errorf("append log: commit: %w", err)
	}
	e.Timestamp = time.Unix(0, ts).UTC()
	return e, nil
}

func (s *Store) RecentLogs(ctx context.Context, limit int) ([]localdb.LogEntry, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT timestamp_ns, level, message, details FROM logs ORDER BY timestamp_ns DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent logs: %w", err)
	}
	defer rows.Close()

	var out []localdb.LogEntry
	for rows.Next() {
		var (
			ts      int64
			e       localdb.LogEntry
			details []byte
		)
		if err := rows.Scan(&ts, &e.Level, &e.Message, &details); err != nil {
			return nil, fmt.Errorf("recent logs: %w", err)
		}
		e.Timestamp = time.Unix(0, ts).UTC()
		if len(details) > 0 {
			st, err := s.details.Decode(details)
			if err != nil {
				return nil, fmt.Errorf("recent logs: details: %w", err)
			}
			e.Details = st.AsMap()
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent logs: %w", err)
	}
	return out, nil
}

// toStruct converts details, rendering values structpb cannot hold as text.
func toStruct(details map[string]any) *structpb.Struct {
	fields := make(map[string]*structpb.Value, len(details))
	for k, v := range details {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		pv, err := structpb.NewValue(v)
		if err != nil {
			pv = structpb.NewStringValue(fmt.Sprint(v))
		}
		fields[k] = pv
	}
	return &structpb.Struct{Fields: fields}
}
