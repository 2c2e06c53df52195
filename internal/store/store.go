// Package store persists named JSON collections with crash-safe writes.
//
// Every collection is one file, <dir>/<name>.json. Writes go to a temporary
// file in the same directory which is synced and renamed over the target, so
// a reader only ever sees the old or the new content. Rename protects against
// torn files, not against lost updates: callers doing read/modify/write must
// go through Update or Lock, which serialize access per collection name.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kozaktomas/attendance/internal/logger"
	"github.com/kozaktomas/attendance/internal/metrics"
)

const (
	defaultAttempts   = 3
	defaultRetryDelay = 100 * time.Millisecond

	fileExt         = ".json"
	backupTimestamp = "20060102_150405.000000000"
)

var (
	// ErrClosed is returned by every operation on a closed Store.
	ErrClosed = errors.New("store closed")
	// ErrStoreRead is returned when a collection cannot be read for reasons other than corruption.
	ErrStoreRead = errors.New("store read failed")
	// ErrStoreWriteFailed is returned when a write still fails after all attempts.
	ErrStoreWriteFailed = errors.New("store write failed")
	// ErrNotLocked is returned when a Session touches a collection it does not hold.
	ErrNotLocked = errors.New("collection not locked by session")
	// ErrInvalidName is returned for collection names that are not plain file names.
	ErrInvalidName = errors.New("invalid collection name")
)

// Store is a handle on a directory of collections. It is opened once per
// process and shared by every component that persists data.
type Store struct {
	dir        string
	log        *logger.Logger
	metrics    *metrics.Metrics
	attempts   int
	retryDelay time.Duration
	now        func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
	closed  atomic.Bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for recovery and retry events.
func WithLogger(l *logger.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics records recoveries and write failures.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithRetry overrides the attempt count and the pause between attempts.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(s *Store) {
		if attempts > 0 {
			s.attempts = attempts
		}
		if delay >= 0 {
			s.retryDelay = delay
		}
	}
}

// WithClock overrides the time source used for backup names.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open prepares dir for use, creating it if needed.
func Open(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	s := &Store{
		dir:        dir,
		log:        logger.Nop(),
		attempts:   defaultAttempts,
		retryDelay: defaultRetryDelay,
		now:        time.Now,
		locks:      make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "store")
	return s, nil
}

// Close marks the store closed. Calls in progress finish normally.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

// Dir returns the data directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the file path backing collection name.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name+fileExt)
}

// Exists reports whether the collection file is present.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.Path(name))
	return err == nil
}

func (s *Store) check(name string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func (s *Store) mutex(name string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	m, ok := s.locks[name]
	if !ok {
		m = &sync.Mutex{}
		s.locks[name] = m
	}
	return m
}

// Session holds the locks of one or more collections for the duration of a
// multi-step mutation. It is not safe for use by several goroutines.
type Session struct {
	s    *Store
	held []string
	done bool
}

// Lock acquires the locks of names in sorted order, so two sessions locking
// overlapping sets cannot deadlock. The caller must call Unlock, typically deferred.
func (s *Store) Lock(names ...string) *Session {
	held := slices.Clone(names)
	slices.Sort(held)
	held = slices.Compact(held)
	for _, n := range held {
		s.mutex(n).Lock()
	}
	return &Session{s: s, held: held}
}

// Unlock releases every lock held by the session. Calling it twice is a no-op.
func (ss *Session) Unlock() {
	if ss.done {
		return
	}
	ss.done = true
	for i := len(ss.held) - 1; i >= 0; i-- {
		ss.s.mutex(ss.held[i]).Unlock()
	}
}

func (ss *Session) holds(name string) bool {
	return !ss.done && slices.Contains(ss.held, name)
}

// readFile loads and decodes a collection. found is false when the file is
// missing or was moved aside as corrupt; the caller then uses its default.
// locked tells whether the caller already holds the collection lock.
func (s *Store) readFile(name string, decode func([]byte) error, locked bool) (found bool, err error) {
	path := s.Path(name)

	var lastErr error
	corrupt := false
	for attempt := 1; attempt <= s.attempts; attempt++ {
		if attempt > 1 {
			time.Sleep(s.retryDelay)
		}

		data, err := os.ReadFile(path) //nolint:gosec // path is built from the data dir
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		if err != nil {
			lastErr, corrupt = err, false
			s.log.Warn("collection read failed", "collection", name, "attempt", attempt, "error", err)
			continue
		}

		if err := decode(data); err != nil {
			lastErr, corrupt = err, true
			s.log.Warn("collection decode failed", "collection", name, "attempt", attempt, "error", err)
			continue
		}
		return true, nil
	}

	if !corrupt {
		return false, fmt.Errorf("%w: %s: %v", ErrStoreRead, name, lastErr)
	}
	if err := s.recover(name, decode, locked, lastErr); err != nil {
		return false, err
	}
	return false, nil
}

// recover moves a corrupt collection file aside. Under the collection lock it
// re-checks the file first so that a valid file written by a concurrent
// writer is never backed up by mistake.
func (s *Store) recover(name string, decode func([]byte) error, locked bool, cause error) error {
	if !locked {
		m := s.mutex(name)
		m.Lock()
		defer m.Unlock()
	}

	path := s.Path(name)
	data, err := os.ReadFile(path) //nolint:gosec // path is built from the data dir
	if errors.Is(err, fs.ErrNotExist) {
		// Another reader already recovered it.
		return nil
	}
	if err == nil && decode(data) == nil {
		return nil
	}

	backup := filepath.Join(s.dir, fmt.Sprintf("%s.corrupted.%s%s", name, s.now().Format(backupTimestamp), fileExt))
	if err := os.Rename(path, backup); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: %s: moving corrupt file aside: %v", ErrStoreRead, name, err)
	}

	s.log.Warn("StoreRecoveredFromCorruption", "collection", name, "backup", backup, "cause", cause)
	s.metrics.StoreRecovered(name)
	return nil
}

// writeFile encodes v and replaces the collection file, retrying transient failures.
func (s *Store) writeFile(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}

	path := s.Path(name)
	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		if attempt > 1 {
			time.Sleep(s.retryDelay)
			s.metrics.StoreWriteRetried(name)
		}
		if lastErr = WriteFileAtomic(path, data, 0o600); lastErr == nil {
			return nil
		}
		s.log.Warn("collection write failed", "collection", name, "attempt", attempt, "error", lastErr)
	}

	s.metrics.StoreWriteFailed(name)
	return fmt.Errorf("%w: %s: %v", ErrStoreWriteFailed, name, lastErr)
}

// Read loads collection name. A missing file yields def without creating
// anything; a file that stays undecodable after all attempts is moved aside
// as a timestamped backup and also yields def.
func Read[T any](s *Store, name string, def T) (T, error) {
	if err := s.check(name); err != nil {
		return def, err
	}
	return read(s, name, def, false)
}

func read[T any](s *Store, name string, def T, locked bool) (T, error) {
	var v T
	decode := func(b []byte) error {
		var tmp T
		if err := json.Unmarshal(b, &tmp); err != nil {
			return err
		}
		v = tmp
		return nil
	}

	found, err := s.readFile(name, decode, locked)
	if err != nil || !found {
		return def, err
	}
	return v, nil
}

// Write replaces collection name with v.
func Write[T any](s *Store, name string, v T) error {
	if err := s.check(name); err != nil {
		return err
	}
	m := s.mutex(name)
	m.Lock()
	defer m.Unlock()
	return s.writeFile(name, v)
}

// Update runs a read/modify/write cycle on collection name while holding its
// lock. If fn returns an error nothing is written and the error is returned.
func Update[T any](s *Store, name string, def T, fn func(v *T) error) error {
	if err := s.check(name); err != nil {
		return err
	}
	ss := s.Lock(name)
	defer ss.Unlock()

	v, err := ReadLocked(ss, name, def)
	if err != nil {
		return err
	}
	if err := fn(&v); err != nil {
		return err
	}
	return WriteLocked(ss, name, v)
}

// ReadLocked is Read for a collection held by ss.
func ReadLocked[T any](ss *Session, name string, def T) (T, error) {
	if err := ss.s.check(name); err != nil {
		return def, err
	}
	if !ss.holds(name) {
		return def, fmt.Errorf("%w: %s", ErrNotLocked, name)
	}
	return read(ss.s, name, def, true)
}

// WriteLocked is Write for a collection held by ss.
func WriteLocked[T any](ss *Session, name string, v T) error {
	if err := ss.s.check(name); err != nil {
		return err
	}
	if !ss.holds(name) {
		return fmt.Errorf("%w: %s", ErrNotLocked, name)
	}
	return ss.s.writeFile(name, v)
}
