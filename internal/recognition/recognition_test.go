package recognition

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/attendance/internal/catalog"
	"github.com/kozaktomas/attendance/internal/facematch"
	"github.com/kozaktomas/attendance/internal/metrics"
)

const testLandmarks = 6

func face(seed float64) facematch.Landmarks {
	l := make(facematch.Landmarks, testLandmarks)
	for i := range l {
		f := float64(i + 1)
		l[i] = facematch.Point{X: seed * f, Y: seed + f, Z: math.Sin(seed * f)}
	}
	return l
}

type fakeSource struct {
	mu      sync.Mutex
	entries []catalog.IndexEntry
	err     error
	calls   int
}

func (f *fakeSource) Index(context.Context) ([]catalog.IndexEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.entries, f.err
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func enrolled(t *testing.T, codec facematch.Codec, id, name string, seeds ...float64) catalog.IndexEntry {
	t.Helper()
	e := catalog.IndexEntry{ID: id, DisplayName: name}
	for _, s := range seeds {
		sig, err := codec.Encode(face(s))
		require.NoError(t, err)
		e.Signatures = append(e.Signatures, sig)
	}
	return e
}

func TestRecognize_OwnCaptureMatches(t *testing.T) {
	codec := facematch.NewCodec(testLandmarks)
	src := &fakeSource{entries: []catalog.IndexEntry{
		enrolled(t, codec, "001", "Alice", 1, 1.01, 1.02, 1.03, 1.04),
		enrolled(t, codec, "002", "Bob", -3, -3.1, -3.2, -3.3, -3.4),
	}}
	svc := New(src, codec, 0.6)

	r, err := svc.Recognize(context.Background(), face(1.02))
	require.NoError(t, err)
	assert.Equal(t, StatusRecognized, r.Status)
	assert.True(t, r.Matched)
	assert.Equal(t, "001", r.IdentityID)
	assert.Equal(t, "Alice", r.DisplayName)
	require.NotNil(t, r.Distance)
	assert.InDelta(t, 0, *r.Distance, 1e-6)
	require.NotNil(t, r.SecondDistance)
	assert.Greater(t, *r.SecondDistance, *r.Distance)
	require.NotNil(t, r.BBox)
}

func TestRecognize_FarFaceIsUnknown(t *testing.T) {
	codec := facematch.NewCodec(testLandmarks)
	src := &fakeSource{entries: []catalog.IndexEntry{
		enrolled(t, codec, "001", "Alice", 1),
	}}
	// A tiny threshold makes any non-identical face "far".
	svc := New(src, codec, 1e-9)

	r, err := svc.Recognize(context.Background(), face(5))
	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, r.Status)
	assert.False(t, r.Matched)
	assert.Empty(t, r.IdentityID)
	assert.Equal(t, ReasonAboveLimit, r.Reason)
	require.NotNil(t, r.Distance)
	assert.Nil(t, r.SecondDistance)
}

func TestRecognize_ThresholdIsExclusive(t *testing.T) {
	codec := facematch.NewCodec(testLandmarks)
	entry := enrolled(t, codec, "001", "Alice", 1)
	query := face(2)
	sig, err := codec.Encode(query)
	require.NoError(t, err)
	d := facematch.CosineDistance(sig, entry.Signatures[0])

	svc := New(&fakeSource{entries: []catalog.IndexEntry{entry}}, codec, d)
	r, err := svc.Recognize(context.Background(), query)
	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, r.Status)
}

func TestRecognize_NoFaceIsAResult(t *testing.T) {
	codec := facematch.NewCodec(testLandmarks)
	svc := New(&fakeSource{entries: []catalog.IndexEntry{enrolled(t, codec, "001", "Alice", 1)}}, codec, 0.6)

	zero := make(facematch.Landmarks, testLandmarks)
	nan := face(1)
	nan[0].X = math.NaN()

	tests := []struct {
		name      string
		landmarks facematch.Landmarks
	}{
		{"empty", nil},
		{"wrong count", face(1)[:2]},
		{"non-finite", nan},
		{"zero vector", zero},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := svc.Recognize(context.Background(), tt.landmarks)
			require.NoError(t, err)
			assert.Equal(t, StatusNoFace, r.Status)
			assert.False(t, r.Matched)
			assert.NotEmpty(t, r.Reason)
		})
	}
}

func TestRecognize_EmptyCatalog(t *testing.T) {
	svc := New(&fakeSource{}, facematch.NewCodec(testLandmarks), 0.6)

	r, err := svc.Recognize(context.Background(), face(1))
	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, r.Status)
	assert.Equal(t, ReasonNoIdentities, r.Reason)
}

func TestRecognize_StorageErrorSurfaces(t *testing.T) {
	boom := errors.New("disk on fire")
	svc := New(&fakeSource{err: boom}, facematch.NewCodec(testLandmarks), 0.6)

	_, err := svc.Recognize(context.Background(), face(1))
	assert.ErrorIs(t, err, boom)
}

func TestRecognize_InvalidLandmarksSkipIndex(t *testing.T) {
	src := &fakeSource{err: errors.New("disk on fire")}
	svc := New(src, facematch.NewCodec(testLandmarks), 0.6)

	r, err := svc.Recognize(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusNoFace, r.Status)

	results, err := svc.RecognizeMultiple(context.Background(), []facematch.Landmarks{nil, face(1)[:2]})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, StatusNoFace, results[1].Status)
	assert.Equal(t, 0, src.Calls())
}

func TestRecognize_TieKeepsLowestID(t *testing.T) {
	codec := facematch.NewCodec(testLandmarks)
	a := enrolled(t, codec, "010", "Twin B", 1)
	b := enrolled(t, codec, "002", "Twin A", 1)
	svc := New(&fakeSource{entries: []catalog.IndexEntry{a, b}}, codec, 0.6)

	r, err := svc.Recognize(context.Background(), face(1))
	require.NoError(t, err)
	assert.Equal(t, "002", r.IdentityID)
}

func TestRecognizeMultiple_IndependentFaces(t *testing.T) {
	codec := facematch.NewCodec(testLandmarks)
	src := &fakeSource{entries: []catalog.IndexEntry{
		enrolled(t, codec, "001", "Alice", 1, 1.01),
	}}
	svc := New(src, codec, 0.6)

	results, err := svc.RecognizeMultiple(context.Background(),
		[]facematch.Landmarks{face(1), face(1.01), nil})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "001", results[0].IdentityID)
	assert.Equal(t, "001", results[1].IdentityID)
	assert.Equal(t, StatusNoFace, results[2].Status)
	assert.Equal(t, 1, src.Calls())
}

func TestService_CacheAndInvalidate(t *testing.T) {
	codec := facematch.NewCodec(testLandmarks)
	src := &fakeSource{}
	svc := New(src, codec, 0.6, WithCacheTTL(time.Minute))
	ctx := context.Background()

	r, err := svc.Recognize(ctx, face(1))
	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, r.Status)

	src.mu.Lock()
	src.entries = []catalog.IndexEntry{enrolled(t, codec, "001", "Alice", 1)}
	src.mu.Unlock()

	r, err = svc.Recognize(ctx, face(1))
	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, r.Status, "cached snapshot is still empty")
	assert.Equal(t, 1, src.Calls())

	svc.Invalidate()
	r, err = svc.Recognize(ctx, face(1))
	require.NoError(t, err)
	assert.Equal(t, StatusRecognized, r.Status)
	assert.Equal(t, 2, src.Calls())
}

// gatedSource blocks its first Index call after reading the entries, until
// release is closed.
type gatedSource struct {
	fakeSource
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func (g *gatedSource) Index(ctx context.Context) ([]catalog.IndexEntry, error) {
	entries, err := g.fakeSource.Index(ctx)
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.read)
		<-g.release
	}
	return entries, err
}

func TestService_InvalidateDuringLoadIsNotCached(t *testing.T) {
	codec := facematch.NewCodec(testLandmarks)
	src := &gatedSource{
		fakeSource: fakeSource{entries: []catalog.IndexEntry{enrolled(t, codec, "001", "Alice", 1)}},
		read:       make(chan struct{}),
		release:    make(chan struct{}),
	}
	svc := New(src, codec, 0.6, WithCacheTTL(time.Minute))
	ctx := context.Background()

	done := make(chan Result)
	go func() {
		r, err := svc.Recognize(ctx, face(1))
		assert.NoError(t, err)
		done <- r
	}()

	<-src.read
	src.mu.Lock()
	src.entries = nil
	src.mu.Unlock()
	svc.Invalidate()
	close(src.release)

	inFlight := <-done
	assert.Equal(t, StatusRecognized, inFlight.Status)

	r, err := svc.Recognize(ctx, face(1))
	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, r.Status, "removed identity must not be served from cache")
	assert.Equal(t, 2, src.Calls())
}

func TestService_NoCacheReloadsEveryCall(t *testing.T) {
	src := &fakeSource{}
	svc := New(src, facematch.NewCodec(testLandmarks), 0.6)

	for range 3 {
		_, err := svc.Recognize(context.Background(), face(1))
		require.NoError(t, err)
	}
	assert.Equal(t, 3, src.Calls())
}

func TestService_ANNMatchesExactScan(t *testing.T) {
	codec := facematch.NewCodec(testLandmarks)
	var entries []catalog.IndexEntry
	for i := range 20 {
		s := float64(i+1) * 0.7
		entries = append(entries, enrolled(t, codec, idOf(i+1), "P", s, s+0.01, s+0.02))
	}
	exact := New(&fakeSource{entries: entries}, codec, 0.6)
	ann := New(&fakeSource{entries: entries}, codec, 0.6, WithANN(true))

	for i := range 20 {
		q := face(float64(i+1)*0.7 + 0.01)
		want, err := exact.Recognize(context.Background(), q)
		require.NoError(t, err)
		got, err := ann.Recognize(context.Background(), q)
		require.NoError(t, err)
		assert.Equal(t, want.IdentityID, got.IdentityID, "query %d", i)
	}
}

func idOf(n int) string {
	return string([]byte{'0' + byte(n/100), '0' + byte(n/10%10), '0' + byte(n%10)})
}

type fakeDetector struct {
	faces []facematch.Landmarks
	err   error
}

func (d fakeDetector) Detect(context.Context, []byte) ([]facematch.Landmarks, error) {
	return d.faces, d.err
}

func TestRecognizeImage(t *testing.T) {
	codec := facematch.NewCodec(testLandmarks)
	src := &fakeSource{entries: []catalog.IndexEntry{enrolled(t, codec, "001", "Alice", 1)}}

	svc := New(src, codec, 0.6, WithDetector(fakeDetector{faces: []facematch.Landmarks{face(1), face(1)}}))
	results, err := svc.RecognizeImage(context.Background(), []byte("img"))
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "001", results[0].IdentityID)
	assert.Equal(t, "001", results[1].IdentityID)

	svc = New(src, codec, 0.6, WithDetector(fakeDetector{err: facematch.ErrNoFaceDetected}))
	results, err = svc.RecognizeImage(context.Background(), []byte("img"))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, StatusNoFace, results[0].Status)

	svc = New(src, codec, 0.6, WithDetector(fakeDetector{err: errors.New("timeout")}))
	_, err = svc.RecognizeImage(context.Background(), []byte("img"))
	assert.Error(t, err)

	_, err = New(src, codec, 0.6).RecognizeImage(context.Background(), []byte("img"))
	assert.ErrorIs(t, err, ErrNoDetector)
}

func TestRecognize_RecordsMetrics(t *testing.T) {
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	codec := facematch.NewCodec(testLandmarks)
	src := &fakeSource{entries: []catalog.IndexEntry{enrolled(t, codec, "001", "Alice", 1)}}
	svc := New(src, codec, 0.6, WithMetrics(m))

	_, err = svc.Recognize(context.Background(), face(1))
	require.NoError(t, err)
	_, err = svc.Recognize(context.Background(), nil)
	require.NoError(t, err)

	assert.InDelta(t, 1, testutil.ToFloat64(m.RecognitionResults.WithLabelValues("recognized")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RecognitionResults.WithLabelValues("no_face")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.RecognitionDistance))
}
