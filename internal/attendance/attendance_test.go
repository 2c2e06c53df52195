package attendance

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/attendance/internal/store"
)

type fakeIdentities map[string]string

func (f fakeIdentities) DisplayName(_ context.Context, id string) (string, bool, error) {
	name, ok := f[id]
	return name, ok, nil
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func newLedger(t *testing.T) (*Ledger, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir(), store.WithRetry(3, time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	c := &clock{t: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}
	ids := fakeIdentities{"001": "Alice", "002": "Bob"}
	return New(st, ids, WithClock(c.Now)), st
}

func TestMarkAutomatic(t *testing.T) {
	lg, _ := newLedger(t)
	ctx := context.Background()

	ev, err := lg.MarkAutomatic(ctx, "001")
	require.NoError(t, err)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, "001", ev.IdentityID)
	assert.Equal(t, "Alice", ev.DisplayName)
	assert.Equal(t, StatusPresent, ev.Status)
	assert.Equal(t, SourceAutomatic, ev.Source)
	assert.Nil(t, ev.EditedAt)

	events, err := lg.List(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ev.ID, events[0].ID)
}

func TestMarkAutomatic_UnknownIdentityCreatesNothing(t *testing.T) {
	lg, st := newLedger(t)

	_, err := lg.MarkAutomatic(context.Background(), "999")
	require.ErrorIs(t, err, ErrUnknownIdentity)
	assert.False(t, st.Exists(Collection))
}

func TestMarkManual(t *testing.T) {
	lg, _ := newLedger(t)
	ctx := context.Background()

	at := time.Date(2024, 2, 28, 10, 0, 0, 0, time.UTC)
	ev, err := lg.MarkManual(ctx, "002", StatusExcused, &at)
	require.NoError(t, err)
	assert.Equal(t, StatusExcused, ev.Status)
	assert.Equal(t, SourceManual, ev.Source)
	assert.True(t, ev.Timestamp.Equal(at))

	ev, err = lg.MarkManual(ctx, "002", StatusAbsent, nil)
	require.NoError(t, err)
	assert.True(t, ev.Timestamp.After(at))

	_, err = lg.MarkManual(ctx, "002", Status("late"), nil)
	assert.ErrorIs(t, err, ErrInvalidStatus)
	_, err = lg.MarkManual(ctx, "404", StatusAbsent, nil)
	assert.ErrorIs(t, err, ErrUnknownIdentity)
}

func TestList_NewestFirst(t *testing.T) {
	lg, _ := newLedger(t)
	ctx := context.Background()

	same := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	older := same.Add(-time.Hour)

	first, err := lg.MarkManual(ctx, "001", StatusPresent, &same)
	require.NoError(t, err)
	oldest, err := lg.MarkManual(ctx, "002", StatusPresent, &older)
	require.NoError(t, err)
	second, err := lg.MarkManual(ctx, "002", StatusAbsent, &same)
	require.NoError(t, err)
	newest, err := lg.MarkAutomatic(ctx, "001")
	require.NoError(t, err)

	events, err := lg.List(ctx)
	require.NoError(t, err)
	var got []string
	for _, e := range events {
		got = append(got, e.ID)
	}
	assert.Equal(t, []string{newest.ID, second.ID, first.ID, oldest.ID}, got)

	mine, err := lg.ForIdentity(ctx, "002")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, second.ID, mine[0].ID)
	assert.Equal(t, oldest.ID, mine[1].ID)
}

func TestEdit(t *testing.T) {
	lg, _ := newLedger(t)
	ctx := context.Background()

	ev, err := lg.MarkAutomatic(ctx, "001")
	require.NoError(t, err)

	excused := StatusExcused
	at := time.Date(2024, 3, 1, 7, 30, 0, 0, time.UTC)
	edited, err := lg.Edit(ctx, ev.ID, Update{Status: &excused, Timestamp: &at})
	require.NoError(t, err)
	assert.Equal(t, StatusExcused, edited.Status)
	assert.True(t, edited.Timestamp.Equal(at))
	require.NotNil(t, edited.EditedAt)
	assert.Equal(t, SourceAutomatic, edited.Source)

	events, err := lg.List(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, StatusExcused, events[0].Status)
	require.NotNil(t, events[0].EditedAt)

	bad := Status("late")
	_, err = lg.Edit(ctx, ev.ID, Update{Status: &bad})
	assert.ErrorIs(t, err, ErrInvalidStatus)
	_, err = lg.Edit(ctx, "nope", Update{})
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestDeleteAndDeleteAll(t *testing.T) {
	lg, _ := newLedger(t)
	ctx := context.Background()

	a, err := lg.MarkAutomatic(ctx, "001")
	require.NoError(t, err)
	_, err = lg.MarkAutomatic(ctx, "002")
	require.NoError(t, err)
	_, err = lg.MarkAutomatic(ctx, "002")
	require.NoError(t, err)

	require.NoError(t, lg.Delete(ctx, a.ID))
	assert.ErrorIs(t, lg.Delete(ctx, a.ID), ErrEventNotFound)

	n, err := lg.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	events, err := lg.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMark_ConcurrentWritersLoseNothing(t *testing.T) {
	lg, _ := newLedger(t)
	ctx := context.Background()

	const n = 30
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := lg.MarkAutomatic(ctx, fmt.Sprintf("%03d", i%2+1))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	events, err := lg.List(ctx)
	require.NoError(t, err)
	assert.Len(t, events, n)
}

func TestReadsLegacyEvents(t *testing.T) {
	lg, st := newLedger(t)
	legacy := `[{"id":"a1","roll":"001","name":"Alice","status":"present","timestamp":"2024-03-01T09:15:02.123456","source":"auto"}]`
	require.NoError(t, store.WriteFileAtomic(st.Path(Collection), []byte(legacy), 0o600))

	events, err := lg.List(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, SourceAutomatic, events[0].Source)
	assert.Equal(t, 2024, events[0].Timestamp.Year())
}

func TestReadsEventsWithMinuteAndUnknownTimestamps(t *testing.T) {
	lg, st := newLedger(t)
	legacy := `[
		{"id":"a1","roll":"001","name":"Alice","status":"present","timestamp":"2024-03-01T09:15:02.123456","source":"auto"},
		{"id":"a2","roll":"001","name":"Alice","status":"absent","timestamp":"2024-03-02T08:30","source":"manual"},
		{"id":"a3","roll":"001","name":"Alice","status":"excused","timestamp":"last tuesday","source":"manual"}
	]`
	require.NoError(t, store.WriteFileAtomic(st.Path(Collection), []byte(legacy), 0o600))
	ctx := context.Background()

	events, err := lg.List(ctx)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "a2", events[0].ID)
	assert.Equal(t, 30, events[0].Timestamp.Minute())
	assert.Equal(t, "a3", events[2].ID)
	assert.Equal(t, "last tuesday", events[2].Timestamp.Unparsed())

	matches, err := filepath.Glob(filepath.Join(st.Dir(), Collection+".corrupted.*"))
	require.NoError(t, err)
	assert.Empty(t, matches, "valid history must not be moved aside")

	_, err = lg.MarkAutomatic(ctx, "001")
	require.NoError(t, err)

	events, err = lg.List(ctx)
	require.NoError(t, err)
	assert.Len(t, events, 4)

	data, err := os.ReadFile(st.Path(Collection))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"last tuesday"`)
}

type failingIdentities struct{}

func (failingIdentities) DisplayName(context.Context, string) (string, bool, error) {
	return "", false, errors.New("catalog unavailable")
}

func TestMark_LookupErrorSurfaces(t *testing.T) {
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	lg := New(st, failingIdentities{})

	_, err = lg.MarkAutomatic(context.Background(), "001")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownIdentity)
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    Status
		wantErr bool
	}{
		{"present", StatusPresent, false},
		{" Absent ", StatusAbsent, false},
		{"EXCUSED", StatusExcused, false},
		{"late", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseStatus(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidStatus, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}
