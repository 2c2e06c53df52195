// Package attendance records who was present, absent or excused and when.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/attendance/internal/logger"
	"github.com/kozaktomas/attendance/internal/metrics"
	"github.com/kozaktomas/attendance/internal/store"
)

// Collection is the store collection holding attendance events.
const Collection = "attendance"

var (
	// ErrUnknownIdentity is returned when marking an identity that is not enrolled.
	ErrUnknownIdentity = errors.New("unknown identity")
	// ErrInvalidStatus is returned for statuses other than present, absent and excused.
	ErrInvalidStatus = errors.New("invalid attendance status")
	// ErrEventNotFound is returned for unknown event ids.
	ErrEventNotFound = errors.New("attendance event not found")
)

// Status of an attendance event.
type Status string

const (
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
	StatusExcused Status = "excused"
)

// ParseStatus validates s case-insensitively.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

// Valid reports whether st is a known status.
func (st Status) Valid() bool {
	switch st {
	case StatusPresent, StatusAbsent, StatusExcused:
		return true
	}
	return false
}

// Source tells how an event was created. The JSON values match existing data files.
type Source string

const (
	SourceAutomatic Source = "auto"
	SourceManual    Source = "manual"
)

// Event is one attendance record.
type Event struct {
	ID          string           `json:"id"`
	IdentityID  string           `json:"roll"`
	DisplayName string           `json:"name"`
	Status      Status           `json:"status"`
	Timestamp   store.Timestamp  `json:"timestamp"`
	Source      Source           `json:"source"`
	EditedAt    *store.Timestamp `json:"edited_at,omitempty"`
}

// Update holds the fields Edit may change; nil fields are left alone.
type Update struct {
	Status    *Status
	Timestamp *time.Time
}

// IdentityLookup resolves identity ids to display names.
type IdentityLookup interface {
	DisplayName(ctx context.Context, id string) (name string, ok bool, err error)
}

// Ledger stores attendance events in a single collection.
type Ledger struct {
	st         *store.Store
	identities IdentityLookup
	log        *logger.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
	newID      func() string
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(lg *Ledger) {
		if l != nil {
			lg.log = l
		}
	}
}

// WithMetrics counts created events.
func WithMetrics(m *metrics.Metrics) Option {
	return func(lg *Ledger) { lg.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(lg *Ledger) { lg.now = now }
}

// New creates a ledger.
func New(st *store.Store, identities IdentityLookup, opts ...Option) *Ledger {
	lg := &Ledger{
		st:         st,
		identities: identities,
		log:        logger.Nop(),
		now:        time.Now,
		newID:      func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(lg)
	}
	lg.log = lg.log.With("component", "attendance")
	return lg
}

func (lg *Ledger) lookup(ctx context.Context, identityID string) (string, error) {
	name, ok, err := lg.identities.DisplayName(ctx, identityID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownIdentity, identityID)
	}
	return name, nil
}

func (lg *Ledger) add(ctx context.Context, identityID string, status Status, ts time.Time, src Source) (*Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name, err := lg.lookup(ctx, identityID)
	if err != nil {
		return nil, err
	}

	ev := Event{
		ID:          lg.newID(),
		IdentityID:  identityID,
		DisplayName: name,
		Status:      status,
		Timestamp:   store.NewTimestamp(ts),
		Source:      src,
	}
	err = store.Update(lg.st, Collection, []Event{}, func(events *[]Event) error {
		*events = append(*events, ev)
		return nil
	})
	if err != nil {
		return nil, err
	}

	lg.log.Info("attendance marked", "event", ev.ID, "id", identityID, "status", status, "source", src)
	lg.metrics.AttendanceMarked(string(src))
	return &ev, nil
}

// MarkAutomatic records identityID as present now.
func (lg *Ledger) MarkAutomatic(ctx context.Context, identityID string) (*Event, error) {
	return lg.add(ctx, identityID, StatusPresent, lg.now(), SourceAutomatic)
}

// MarkManual records status for identityID at ts, or now when ts is nil.
func (lg *Ledger) MarkManual(ctx context.Context, identityID string, status Status, ts *time.Time) (*Event, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	at := lg.now()
	if ts != nil {
		at = *ts
	}
	return lg.add(ctx, identityID, status, at, SourceManual)
}

// List returns every event, newest first. Events with equal timestamps are
// ordered by reverse insertion.
func (lg *Ledger) List(ctx context.Context) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	events, err := store.Read(lg.st, Collection, []Event{})
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		if raw := ev.Timestamp.Unparsed(); raw != "" {
			lg.log.Warn("attendance event has unreadable timestamp", "event", ev.ID, "timestamp", raw)
		}
	}
	slices.Reverse(events)
	slices.SortStableFunc(events, func(a, b Event) int {
		return b.Timestamp.Compare(a.Timestamp.Time)
	})
	return events, nil
}

// ForIdentity returns the events of one identity, newest first.
func (lg *Ledger) ForIdentity(ctx context.Context, identityID string) ([]Event, error) {
	events, err := lg.List(ctx)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(events, func(e Event) bool { return e.IdentityID != identityID }), nil
}

// Edit changes the status and/or timestamp of an event and stamps EditedAt.
func (lg *Ledger) Edit(ctx context.Context, eventID string, u Update) (*Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if u.Status != nil && !u.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, *u.Status)
	}

	var before, after Event
	err := store.Update(lg.st, Collection, []Event{}, func(events *[]Event) error {
		i := slices.IndexFunc(*events, func(e Event) bool { return e.ID == eventID })
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
		}
		ev := &(*events)[i]
		before = *ev
		if u.Status != nil {
			ev.Status = *u.Status
		}
		if u.Timestamp != nil {
			ev.Timestamp = store.NewTimestamp(*u.Timestamp)
		}
		edited := store.NewTimestamp(lg.now())
		ev.EditedAt = &edited
		after = *ev
		return nil
	})
	if err != nil {
		return nil, err
	}

	lg.log.Info("attendance edited", "event", eventID,
		"old_status", before.Status, "new_status", after.Status,
		"old_timestamp", before.Timestamp.Time, "new_timestamp", after.Timestamp.Time)
	return &after, nil
}

// Delete removes one event.
func (lg *Ledger) Delete(ctx context.Context, eventID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := store.Update(lg.st, Collection, []Event{}, func(events *[]Event) error {
		i := slices.IndexFunc(*events, func(e Event) bool { return e.ID == eventID })
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
		}
		*events = slices.Delete(*events, i, i+1)
		return nil
	})
	if err != nil {
		return err
	}
	lg.log.Info("attendance deleted", "event", eventID)
	return nil
}

// DeleteAll removes every event and returns how many there were.
func (lg *Ledger) DeleteAll(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n int
	err := store.Update(lg.st, Collection, []Event{}, func(events *[]Event) error {
		n = len(*events)
		*events = []Event{}
		return nil
	})
	if err != nil {
		return 0, err
	}
	lg.log.Info("attendance cleared", "events", n)
	return n, nil
}
