// Package localdb defines the durable local store: pending mutation
// operations, mirrored lots, and log entries. The store exclusively owns the
// three collections; see localdb/sqlite for the implementation.
package localdb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidLot = errors.New("localdb: invalid lot")
	ErrNotFound   = errors.New("localdb: not found")
)

// PendingOperation is a mutation that could not reach the network.
// It is created once and deleted once replayed; it is never updated.
type PendingOperation struct {
	ID             int64
	URL            string
	Method         string
	Body           json.RawMessage
	IdempotencyKey string
	CreatedAt      time.Time
}

// LotStatus is derived from the expiry date.
type LotStatus string

const (
	LotValid   LotStatus = "valid"
	LotWarning LotStatus = "warning"
	LotExpired LotStatus = "expired"
	LotUnknown LotStatus = "unknown"
)

// WarningWindow is how close to expiry a lot turns to LotWarning.
const WarningWindow = 30 * 24 * time.Hour

const dateLayout = "2006-01-02"

// Lot is a mirrored copy of a server-side lot. Raw holds the payload exactly
// as pushed; the typed fields are extracted from it on a best-effort basis.
type Lot struct {
	ID          string
	LotNumber   string
	ProductName string
	Type        string
	ExpiryDate  string
	PN          string
	Quantity    int64
	Image       string
	Raw         json.RawMessage
	UpdatedAt   time.Time
}

// ParseLot extracts a lot from a JSON object. Only a non-empty id (string or
// number) is required; fields of an unexpected type are left zero.
func ParseLot(raw json.RawMessage) (Lot, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return Lot{}, fmt.Errorf("%w: not an object", ErrInvalidLot)
	}
	id := scalar(m["id"])
	if id == "" {
		return Lot{}, fmt.Errorf("%w: missing id", ErrInvalidLot)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return Lot{}, fmt.Errorf("%w: %v", ErrInvalidLot, err)
	}
	l := Lot{
		ID:          id,
		LotNumber:   scalar(m["lot_number"]),
		ProductName: scalar(m["product_name"]),
		Type:        scalar(m["type"]),
		ExpiryDate:  scalar(m["expiry_date"]),
		PN:          scalar(m["pn"]),
		Image:       scalar(m["image"]),
		Raw:         buf.Bytes(),
	}
	var q json.Number
	if err := json.Unmarshal(m["quantity"], &q); err == nil {
		if n, err := q.Int64(); err == nil {
			l.Quantity = n
		}
	}
	return l, nil
}

// scalar renders a JSON string or number as text; anything else is "".
func scalar(v json.RawMessage) string {
	if len(v) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		return n.String()
	}
	return ""
}

// Expiry parses ExpiryDate (YYYY-MM-DD, an RFC 3339 timestamp is truncated).
func (l Lot) Expiry() (time.Time, bool) {
	d := l.ExpiryDate
	if len(d) > len(dateLayout) {
		d = d[:len(dateLayout)]
	}
	t, err := time.Parse(dateLayout, d)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Status classifies the lot against the calendar day of now.
func (l Lot) Status(now time.Time) LotStatus {
	exp, ok := l.Expiry()
	if !ok {
		return LotUnknown
	}
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	switch {
	case exp.Before(today):
		return LotExpired
	case !exp.After(today.Add(WarningWindow)):
		return LotWarning
	default:
		return LotValid
	}
}

// LogEntry is keyed by its timestamp. Details may be nil.
type LogEntry struct {
	Timestamp time.Time
	Level     string
	Message   string
	Details   map[string]any
}

// Store is the durable local store. Every method that writes more than one
// row does so in a single transaction and returns after it committed.
type Store interface {
	// AddPendingOperation assigns ID and CreatedAt (and IdempotencyKey when
	// empty) and returns the stored operation.
	AddPendingOperation(ctx context.Context, op PendingOperation) (PendingOperation, error)
	// ListPendingOperations returns operations in insertion order.
	ListPendingOperations(ctx context.Context) ([]PendingOperation, error)
	DeletePendingOperation(ctx context.Context, id int64) error
	CountPendingOperations(ctx context.Context) (int, error)

	// PutLots upserts lots by id; last write wins.
	PutLots(ctx context.Context, lots []Lot) error
	GetLot(ctx context.Context, id string) (Lot, error)
	ListLots(ctx context.Context) ([]Lot, error)

	// AppendLog stores e and returns it with the timestamp actually used.
	AppendLog(ctx context.Context, e LogEntry) (LogEntry, error)
	// RecentLogs returns up to limit entries, newest first.
	RecentLogs(ctx context.Context, limit int) ([]LogEntry, error)

	Close() error
}
