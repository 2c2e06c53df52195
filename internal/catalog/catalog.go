// Package catalog owns enrolled identities, their read-optimized signature
// index and the archive of removed identities.
//
// Identities are the source of truth. The embeddings collection is a
// projection used by recognition; it is kept a subset of identities by
// writing identities first on enrollment and embeddings first on removal,
// and Reconcile rebuilds it after a crash between the two writes.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/kozaktomas/attendance/internal/facematch"
	"github.com/kozaktomas/attendance/internal/logger"
	"github.com/kozaktomas/attendance/internal/metrics"
	"github.com/kozaktomas/attendance/internal/store"
)

// Collection names. Identities keeps the file name of existing data directories.
const (
	Identities = "students"
	Embeddings = "embeddings"
	Meta       = "catalog_meta"
)

// idWidth is the zero-padded width of issued ids ("001").
const idWidth = 3

var (
	// ErrInvalidImageCount is returned when enrollment gets other than K captures.
	ErrInvalidImageCount = errors.New("invalid image count")
	// ErrInvalidName is returned when the display name is empty after cleaning.
	ErrInvalidName = errors.New("invalid display name")
	// ErrNotFound is returned for unknown identity ids and archive entries.
	ErrNotFound = errors.New("identity not found")
	// ErrNoDetector is returned by EnrollImages when no detector is configured.
	ErrNoDetector = errors.New("no landmark detector configured")
	// ErrNoFaceDetected is returned when a capture has no landmarks.
	ErrNoFaceDetected = facematch.ErrNoFaceDetected
)

// Identity is an enrolled person. JSON names match the existing data files.
type Identity struct {
	ID          string                `json:"roll"`
	DisplayName string                `json:"name"`
	Signatures  []facematch.Signature `json:"embeddings"`
	MediaPaths  []string              `json:"image_paths"`
	CreatedAt   store.Timestamp       `json:"created_at"`
}

// IndexEntry is the projection of an Identity that recognition reads.
type IndexEntry struct {
	ID          string                `json:"roll"`
	DisplayName string                `json:"name"`
	Signatures  []facematch.Signature `json:"embeddings"`
}

// Candidate converts the entry for the matcher.
func (e IndexEntry) Candidate() facematch.Candidate {
	return facematch.Candidate{ID: e.ID, Signatures: e.Signatures}
}

func (i Identity) entry() IndexEntry {
	return IndexEntry{ID: i.ID, DisplayName: i.DisplayName, Signatures: i.Signatures}
}

type meta struct {
	LastID int `json:"last_id"`
}

// MediaStore keeps capture images.
type MediaStore interface {
	Save(id string, n int, data []byte) (string, error)
	Move(rel, dstDir string) error
	Remove(rel string) error
}

// Detector extracts landmarks from an image.
type Detector interface {
	Detect(ctx context.Context, image []byte) ([]facematch.Landmarks, error)
}

// Catalog manages identities stored in a store.Store.
type Catalog struct {
	st       *store.Store
	media    MediaStore
	codec    facematch.Codec
	detector Detector
	log      *logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	hooksMu sync.RWMutex
	hooks   []func()
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Catalog) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics records enrollments and removals.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Catalog) { c.metrics = m }
}

// WithDetector enables EnrollImages.
func WithDetector(d Detector) Option {
	return func(c *Catalog) { c.detector = d }
}

// WithClock overrides the time source for creation and archive timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Catalog) { c.now = now }
}

// New creates a catalog. media may be nil, in which case capture images are not kept.
func New(st *store.Store, media MediaStore, codec facematch.Codec, opts ...Option) *Catalog {
	c := &Catalog{
		st:    st,
		media: media,
		codec: codec,
		log:   logger.Nop(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "catalog")
	return c
}

// OnChange registers fn to run after every successful enroll, remove or
// reconcile that changed the index.
func (c *Catalog) OnChange(fn func()) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.hooks = append(c.hooks, fn)
}

func (c *Catalog) changed() {
	c.hooksMu.RLock()
	defer c.hooksMu.RUnlock()
	for _, fn := range c.hooks {
		fn()
	}
}

func (c *Catalog) identities() (map[string]Identity, error) {
	return store.Read(c.st, Identities, map[string]Identity{})
}

func sortedIdentities(m map[string]Identity) []Identity {
	out := slices.Collect(maps.Values(m))
	slices.SortFunc(out, func(a, b Identity) int { return facematch.CompareIDs(a.ID, b.ID) })
	return out
}

// List returns all identities sorted by ascending id.
func (c *Catalog) List(ctx context.Context) ([]Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := c.identities()
	if err != nil {
		return nil, err
	}
	return sortedIdentities(m), nil
}

// Get returns identity id or ErrNotFound.
func (c *Catalog) Get(ctx context.Context, id string) (*Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := c.identities()
	if err != nil {
		return nil, err
	}
	ident, ok := m[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &ident, nil
}

// Exists reports whether id is enrolled.
func (c *Catalog) Exists(ctx context.Context, id string) (bool, error) {
	_, err := c.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// DisplayName returns the name of identity id and whether it exists.
func (c *Catalog) DisplayName(ctx context.Context, id string) (string, bool, error) {
	ident, err := c.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return ident.DisplayName, true, nil
}

// Search returns identities whose display name contains query, ignoring case and diacritics.
func (c *Catalog) Search(ctx context.Context, query string) ([]Identity, error) {
	all, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []Identity
	for _, ident := range all {
		if facematch.NameMatches(ident.DisplayName, query) {
			out = append(out, ident)
		}
	}
	return out, nil
}

// Index returns the signature index used for recognition, sorted by id.
// When the embeddings collection is empty it is projected from identities.
func (c *Catalog) Index(ctx context.Context) ([]IndexEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	emb, err := store.Read(c.st, Embeddings, map[string]IndexEntry{})
	if err != nil {
		return nil, err
	}
	if len(emb) == 0 {
		idents, err := c.identities()
		if err != nil {
			return nil, err
		}
		for id, ident := range idents {
			emb[id] = ident.entry()
		}
	}

	out := slices.Collect(maps.Values(emb))
	slices.SortFunc(out, func(a, b IndexEntry) int { return facematch.CompareIDs(a.ID, b.ID) })
	return out, nil
}

// NextID returns the id the next enrollment will receive.
func (c *Catalog) NextID(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	idents, err := c.identities()
	if err != nil {
		return "", err
	}
	emb, err := store.Read(c.st, Embeddings, map[string]IndexEntry{})
	if err != nil {
		return "", err
	}
	m, err := store.Read(c.st, Meta, meta{})
	if err != nil {
		return "", err
	}
	n, err := c.highWater(idents, emb, m)
	if err != nil {
		return "", err
	}
	return formatID(n + 1), nil
}

// highWater is the largest numeric id ever issued, as far as the data shows.
func (c *Catalog) highWater(idents map[string]Identity, emb map[string]IndexEntry, m meta) (int, error) {
	top := m.LastID
	for id := range idents {
		top = max(top, numericID(id))
	}
	for id := range emb {
		top = max(top, numericID(id))
	}
	archived, err := c.archivedIDs()
	if err != nil {
		return 0, err
	}
	for _, id := range archived {
		top = max(top, numericID(id))
	}
	return top, nil
}

func numericID(id string) int {
	n, err := strconv.Atoi(id)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func formatID(n int) string {
	return fmt.Sprintf("%0*d", idWidth, n)
}
