package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/attendance/internal/facematch"
	"github.com/kozaktomas/attendance/internal/store"
)

// Capture is one enrollment sample: the landmarks of a face and, optionally,
// the image they were detected in.
type Capture struct {
	Landmarks facematch.Landmarks
	Image     []byte
}

// Enroll creates a new identity from exactly facematch.SignaturesPerIdentity
// captures. Either every capture encodes and the identity is stored, or
// nothing is persisted.
func (c *Catalog) Enroll(ctx context.Context, displayName string, captures []Capture) (*Identity, error) {
	if len(captures) != facematch.SignaturesPerIdentity {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidImageCount, len(captures), facematch.SignaturesPerIdentity)
	}
	name := facematch.CleanDisplayName(displayName)
	if name == "" {
		return nil, ErrInvalidName
	}

	sets := make([]facematch.Landmarks, len(captures))
	for i, cp := range captures {
		sets[i] = cp.Landmarks
	}
	sigs, err := c.codec.EncodeAll(sets)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ss := c.st.Lock(Identities, Embeddings, Meta)
	defer ss.Unlock()

	idents, err := store.ReadLocked(ss, Identities, map[string]Identity{})
	if err != nil {
		return nil, err
	}
	emb, err := store.ReadLocked(ss, Embeddings, map[string]IndexEntry{})
	if err != nil {
		return nil, err
	}
	m, err := store.ReadLocked(ss, Meta, meta{})
	if err != nil {
		return nil, err
	}
	top, err := c.highWater(idents, emb, m)
	if err != nil {
		return nil, err
	}
	n := top + 1
	id := formatID(n)

	paths, err := c.saveMedia(id, captures)
	if err != nil {
		return nil, err
	}

	ident := Identity{
		ID:          id,
		DisplayName: name,
		Signatures:  sigs,
		MediaPaths:  paths,
		CreatedAt:   store.NewTimestamp(c.now()),
	}

	// The high-water mark goes first so the id is burned even if a later write fails.
	m.LastID = n
	if err := store.WriteLocked(ss, Meta, m); err != nil {
		c.removeMedia(paths)
		return nil, err
	}

	idents[id] = ident
	if err := store.WriteLocked(ss, Identities, idents); err != nil {
		c.removeMedia(paths)
		return nil, err
	}

	emb[id] = ident.entry()
	if err := store.WriteLocked(ss, Embeddings, emb); err != nil {
		delete(idents, id)
		if rbErr := store.WriteLocked(ss, Identities, idents); rbErr != nil {
			// Reconcile will project the identity into embeddings on the next run.
			c.log.Error("enrollment rollback failed", "id", id, "error", rbErr)
			ss.Unlock()
			c.changed()
			return nil, errors.Join(err, rbErr)
		}
		c.removeMedia(paths)
		return nil, err
	}
	ss.Unlock()

	c.log.Info("identity enrolled", "id", id, "name", name, "media", len(paths))
	c.metrics.Enrolled()
	c.changed()
	return &ident, nil
}

// EnrollImages runs the detector on every image and enrolls the first face of each.
func (c *Catalog) EnrollImages(ctx context.Context, displayName string, images [][]byte) (*Identity, error) {
	if c.detector == nil {
		return nil, ErrNoDetector
	}
	if len(images) != facematch.SignaturesPerIdentity {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidImageCount, len(images), facematch.SignaturesPerIdentity)
	}

	captures := make([]Capture, len(images))
	for i, img := range images {
		faces, err := c.detector.Detect(ctx, img)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i+1, err)
		}
		if len(faces) == 0 {
			return nil, fmt.Errorf("image %d: %w", i+1, ErrNoFaceDetected)
		}
		if len(faces) > 1 {
			c.log.Warn("several faces in enrollment image, using the first", "image", i+1, "faces", len(faces))
		}
		captures[i] = Capture{Landmarks: faces[0], Image: img}
	}
	return c.Enroll(ctx, displayName, captures)
}

func (c *Catalog) saveMedia(id string, captures []Capture) ([]string, error) {
	paths := []string{}
	if c.media == nil {
		return paths, nil
	}
	for i, cp := range captures {
		if len(cp.Image) == 0 {
			continue
		}
		p, err := c.media.Save(id, i+1, cp.Image)
		if err != nil {
			c.removeMedia(paths)
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func (c *Catalog) removeMedia(paths []string) {
	if c.media == nil {
		return
	}
	for _, p := range paths {
		if err := c.media.Remove(p); err != nil {
			c.log.Warn("failed to remove media", "path", p, "error", err)
		}
	}
}
