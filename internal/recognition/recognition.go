// Package recognition matches faces against the enrolled identities.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/kozaktomas/attendance/internal/catalog"
	"github.com/kozaktomas/attendance/internal/facematch"
	"github.com/kozaktomas/attendance/internal/logger"
	"github.com/kozaktomas/attendance/internal/metrics"
)

// Status is the outcome class of a recognition.
type Status string

const (
	StatusRecognized Status = "recognized"
	StatusUnknown    Status = "unknown"
	StatusNoFace     Status = "no_face"
)

// Reasons reported with non-matching results.
const (
	ReasonNoIdentities = "no identities enrolled"
	ReasonAboveLimit   = "distance above threshold"
)

const snapshotKey = "index"

// ErrNoDetector is returned by RecognizeImage when no detector is configured.
var ErrNoDetector = errors.New("no landmark detector configured")

// IndexSource provides the signature index.
type IndexSource interface {
	Index(ctx context.Context) ([]catalog.IndexEntry, error)
}

// Detector extracts landmarks from an image.
type Detector interface {
	Detect(ctx context.Context, image []byte) ([]facematch.Landmarks, error)
}

// Result is the outcome of recognizing one face. Non-matches are results, not errors.
type Result struct {
	Status         Status          `json:"status"`
	Matched        bool            `json:"matched"`
	IdentityID     string          `json:"roll,omitempty"`
	DisplayName    string          `json:"name,omitempty"`
	Distance       *float64        `json:"distance,omitempty"`
	SecondDistance *float64        `json:"second_distance,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	BBox           *facematch.BBox `json:"bbox,omitempty"`
}

// snapshot is one decoded view of the index.
type snapshot struct {
	candidates []facematch.Candidate
	names      map[string]string
	ann        *facematch.SignatureIndex
}

// query is one encoded face. err is set when the landmarks did not encode.
type query struct {
	sig  facematch.Signature
	bbox *facematch.BBox
	err  error
}

// Service recognizes faces.
type Service struct {
	source    IndexSource
	codec     facematch.Codec
	threshold float64
	detector  Detector
	cache     *cache.Cache
	cacheTTL  time.Duration
	// gen counts invalidations; a snapshot is cached only if no
	// invalidation happened while it was being read.
	genMu     sync.Mutex
	gen       uint64
	ann       bool
	log       *logger.Logger
	metrics   *metrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithDetector enables RecognizeImage.
func WithDetector(d Detector) Option {
	return func(s *Service) { s.detector = d }
}

// WithCacheTTL keeps a decoded index snapshot for ttl. Zero disables caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Service) { s.cacheTTL = ttl }
}

// WithANN narrows candidates through an HNSW graph before exact scoring.
func WithANN(enabled bool) Option {
	return func(s *Service) { s.ann = enabled }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics records outcomes and distances.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New creates a Service. A face matches when its best distance is strictly below threshold.
func New(source IndexSource, codec facematch.Codec, threshold float64, opts ...Option) *Service {
	s := &Service{
		source:    source,
		codec:     codec,
		threshold: threshold,
		log:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cacheTTL > 0 {
		s.cache = cache.New(s.cacheTTL, 2*s.cacheTTL)
	}
	s.log = s.log.With("component", "recognition")
	return s
}

// Threshold returns the match threshold.
func (s *Service) Threshold() float64 {
	return s.threshold
}

// Invalidate drops the cached index snapshot. A load already in flight
// still returns its result but does not cache it.
func (s *Service) Invalidate() {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	s.gen++
	if s.cache != nil {
		s.cache.Flush()
	}
}

func (s *Service) generation() uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.gen
}

// cacheSnapshot caches snap unless an invalidation happened since gen was read.
func (s *Service) cacheSnapshot(gen uint64, snap *snapshot) {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	if s.gen == gen {
		s.cache.SetDefault(snapshotKey, snap)
	}
}

func (s *Service) load(ctx context.Context) (*snapshot, error) {
	if s.cache != nil {
		if v, ok := s.cache.Get(snapshotKey); ok {
			return v.(*snapshot), nil
		}
	}

	gen := s.generation()
	entries, err := s.source.Index(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading signature index: %w", err)
	}
	snap := &snapshot{
		candidates: make([]facematch.Candidate, 0, len(entries)),
		names:      make(map[string]string, len(entries)),
	}
	for _, e := range entries {
		snap.candidates = append(snap.candidates, e.Candidate())
		snap.names[e.ID] = e.DisplayName
	}
	facematch.SortCandidates(snap.candidates)
	if s.ann && len(snap.candidates) > 0 {
		snap.ann = facematch.NewSignatureIndex()
		snap.ann.Build(snap.candidates)
	}

	if s.cache != nil {
		s.cacheSnapshot(gen, snap)
	}
	return snap, nil
}

// Recognize matches one face's landmarks. Landmarks that do not encode give
// a no_face result without touching the index.
func (s *Service) Recognize(ctx context.Context, landmarks facematch.Landmarks) (Result, error) {
	results, err := s.RecognizeMultiple(ctx, []facematch.Landmarks{landmarks})
	if err != nil {
		return Result{}, err
	}
	return results[0], nil
}

// RecognizeMultiple matches every face independently against one index snapshot.
// Several faces may resolve to the same identity. The index is loaded only
// when at least one face encodes.
func (s *Service) RecognizeMultiple(ctx context.Context, faces []facematch.Landmarks) ([]Result, error) {
	queries := make([]query, len(faces))
	valid := false
	for i, f := range faces {
		queries[i] = s.prepare(f)
		valid = valid || queries[i].err == nil
	}

	var snap *snapshot
	if valid {
		var err error
		if snap, err = s.load(ctx); err != nil {
			return nil, err
		}
	}

	results := make([]Result, len(queries))
	for i, q := range queries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results[i] = s.match(snap, q)
	}
	return results, nil
}

// RecognizeImage runs the detector once and matches every face it finds.
func (s *Service) RecognizeImage(ctx context.Context, image []byte) ([]Result, error) {
	if s.detector == nil {
		return nil, ErrNoDetector
	}
	faces, err := s.detector.Detect(ctx, image)
	if errors.Is(err, facematch.ErrNoFaceDetected) {
		r := Result{Status: StatusNoFace, Reason: err.Error()}
		s.metrics.Recognized(string(r.Status), -1)
		return []Result{r}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("detecting landmarks: %w", err)
	}
	return s.RecognizeMultiple(ctx, faces)
}

func (s *Service) prepare(landmarks facematch.Landmarks) query {
	sig, err := s.codec.Encode(landmarks)
	if err != nil {
		return query{err: err}
	}
	q := query{sig: sig}
	if b := facematch.Bounds(landmarks); b != (facematch.BBox{}) {
		q.bbox = &b
	}
	return q
}

func (s *Service) match(snap *snapshot, q query) Result {
	r := s.evaluate(snap, q)
	d := -1.0
	if r.Distance != nil {
		d = *r.Distance
	}
	s.metrics.Recognized(string(r.Status), d)
	s.log.Debug("face evaluated", "status", r.Status, "id", r.IdentityID, "distance", d)
	return r
}

func (s *Service) evaluate(snap *snapshot, q query) Result {
	if q.err != nil {
		return Result{Status: StatusNoFace, Reason: q.err.Error()}
	}
	if len(snap.candidates) == 0 {
		return Result{Status: StatusUnknown, Reason: ReasonNoIdentities, BBox: q.bbox}
	}

	var m facematch.Match
	if snap.ann != nil {
		m = snap.ann.Match(q.sig)
	}
	if !m.Found {
		m = facematch.FindBestMatch(q.sig, snap.candidates)
	}
	if !m.Found {
		return Result{Status: StatusUnknown, Reason: ReasonNoIdentities, BBox: q.bbox}
	}

	r := Result{
		Status:         StatusUnknown,
		Distance:       ptr(m.Distance),
		SecondDistance: finite(m.SecondDistance),
		BBox:           q.bbox,
	}
	if m.Distance < s.threshold {
		r.Status = StatusRecognized
		r.Matched = true
		r.IdentityID = m.ID
		r.DisplayName = snap.names[m.ID]
	} else {
		r.Reason = ReasonAboveLimit
	}
	return r
}

func ptr(v float64) *float64 {
	return &v
}

func finite(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}
