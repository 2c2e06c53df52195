package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/kozaktomas/attendance/internal/store"
)

const (
	archiveRoot      = "trash"
	archiveSnapshot  = "student_data.json"
	archiveSeparator = "_student_"
	archiveTimestamp = "20060102_150405"
)

// ArchivedIdentity is the snapshot of a removed identity. Dir is the name of
// its directory under the archive root and is not part of the snapshot file.
type ArchivedIdentity struct {
	Identity
	DeletedAt store.Timestamp `json:"deleted_at"`
	Dir       string          `json:"-"`
}

func (c *Catalog) archivePath(dir string) string {
	return filepath.Join(c.st.Dir(), archiveRoot, dir)
}

// Remove archives identity id with its media and deletes it from both collections.
func (c *Catalog) Remove(ctx context.Context, id string) (*ArchivedIdentity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ss := c.st.Lock(Identities, Embeddings, Meta)
	defer ss.Unlock()

	idents, err := store.ReadLocked(ss, Identities, map[string]Identity{})
	if err != nil {
		return nil, err
	}
	ident, ok := idents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	emb, err := store.ReadLocked(ss, Embeddings, map[string]IndexEntry{})
	if err != nil {
		return nil, err
	}
	// Data written before catalog_meta existed has no high-water mark; record
	// it now, while id is still present, so the id stays retired after a purge.
	if err := c.retainHighWater(ss, idents, emb); err != nil {
		return nil, err
	}

	now := c.now()
	archived := &ArchivedIdentity{
		Identity:  ident,
		DeletedAt: store.NewTimestamp(now),
		Dir:       now.Format(archiveTimestamp) + archiveSeparator + id,
	}
	dst := c.archivePath(archived.Dir)
	if err := c.writeSnapshot(dst, archived); err != nil {
		return nil, err
	}

	// Embeddings first: a crash in between leaves an identity without index
	// entry, which Reconcile repairs, never an index entry without identity.
	entry, indexed := emb[id]
	delete(emb, id)
	if err := store.WriteLocked(ss, Embeddings, emb); err != nil {
		c.dropArchive(dst)
		return nil, err
	}
	delete(idents, id)
	if err := store.WriteLocked(ss, Identities, idents); err != nil {
		if indexed {
			emb[id] = entry
			if rbErr := store.WriteLocked(ss, Embeddings, emb); rbErr != nil {
				c.log.Error("removal rollback failed", "id", id, "error", rbErr)
			}
		}
		c.dropArchive(dst)
		return nil, err
	}
	ss.Unlock()

	if c.media != nil {
		for _, p := range ident.MediaPaths {
			if err := c.media.Move(p, dst); err != nil {
				c.log.Warn("failed to archive media", "id", id, "path", p, "error", err)
			}
		}
	}

	c.log.Info("identity removed", "id", id, "name", ident.DisplayName, "archive", archived.Dir)
	c.metrics.Removed()
	c.changed()
	return archived, nil
}

// retainHighWater raises catalog_meta.last_id to the largest id the data
// currently shows. ss must hold Meta.
func (c *Catalog) retainHighWater(ss *store.Session, idents map[string]Identity, emb map[string]IndexEntry) error {
	m, err := store.ReadLocked(ss, Meta, meta{})
	if err != nil {
		return err
	}
	top, err := c.highWater(idents, emb, m)
	if err != nil {
		return err
	}
	if top <= m.LastID {
		return nil
	}
	m.LastID = top
	return store.WriteLocked(ss, Meta, m)
}

func (c *Catalog) writeSnapshot(dir string, a *ArchivedIdentity) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating archive directory: %w", err)
	}
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding archive snapshot: %w", err)
	}
	if err := store.WriteFileAtomic(filepath.Join(dir, archiveSnapshot), data, 0o600); err != nil {
		c.dropArchive(dir)
		return fmt.Errorf("writing archive snapshot: %w", err)
	}
	return nil
}

func (c *Catalog) dropArchive(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		c.log.Warn("failed to drop archive directory", "dir", dir, "error", err)
	}
}

func (c *Catalog) archiveDirs() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(c.st.Dir(), archiveRoot))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading archive: %w", err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && strings.Contains(e.Name(), archiveSeparator) {
			dirs = append(dirs, e.Name())
		}
	}
	slices.Sort(dirs)
	return dirs, nil
}

// archivedIDs returns the ids encoded in archive directory names.
func (c *Catalog) archivedIDs() ([]string, error) {
	dirs, err := c.archiveDirs()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(dirs))
	for _, d := range dirs {
		ids = append(ids, d[strings.LastIndex(d, archiveSeparator)+len(archiveSeparator):])
	}
	return ids, nil
}

// ListArchived returns every archived identity, oldest removal first.
// Directories without a readable snapshot are skipped.
func (c *Catalog) ListArchived(ctx context.Context) ([]ArchivedIdentity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dirs, err := c.archiveDirs()
	if err != nil {
		return nil, err
	}
	out := make([]ArchivedIdentity, 0, len(dirs))
	for _, d := range dirs {
		data, err := os.ReadFile(filepath.Join(c.archivePath(d), archiveSnapshot)) //nolint:gosec // path is built from the data dir
		if err != nil {
			c.log.Warn("skipping archive entry", "dir", d, "error", err)
			continue
		}
		var a ArchivedIdentity
		if err := json.Unmarshal(data, &a); err != nil {
			c.log.Warn("skipping archive entry", "dir", d, "error", err)
			continue
		}
		a.Dir = d
		out = append(out, a)
	}
	return out, nil
}

// PurgeArchived permanently deletes one archive directory.
func (c *Catalog) PurgeArchived(ctx context.Context, dir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if dir == "" || dir != filepath.Base(dir) || !strings.Contains(dir, archiveSeparator) {
		return fmt.Errorf("%w: archive %q", ErrNotFound, dir)
	}

	ss := c.st.Lock(Identities, Embeddings, Meta)
	defer ss.Unlock()

	p := c.archivePath(dir)
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: archive %q", ErrNotFound, dir)
		}
		return err
	}

	idents, err := store.ReadLocked(ss, Identities, map[string]Identity{})
	if err != nil {
		return err
	}
	emb, err := store.ReadLocked(ss, Embeddings, map[string]IndexEntry{})
	if err != nil {
		return err
	}
	if err := c.retainHighWater(ss, idents, emb); err != nil {
		return err
	}

	if err := os.RemoveAll(p); err != nil {
		return fmt.Errorf("purging archive %s: %w", dir, err)
	}
	c.log.Info("archive purged", "dir", dir)
	return nil
}
