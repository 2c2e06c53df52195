// Package media keeps the capture images that belong to enrolled identities.
package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/webp" // register WebP decoder

	"github.com/kozaktomas/attendance/internal/store"
)

// Dir is the media subdirectory inside the data directory.
const Dir = "faces"

var (
	// ErrUnsupportedImage is returned when data does not decode as a known image format.
	ErrUnsupportedImage = errors.New("unsupported image")
	// ErrInvalidPath is returned for media paths outside the media directory.
	ErrInvalidPath = errors.New("invalid media path")
)

// Store saves, moves and removes media files under <root>/faces.
// Paths handed out are relative to root, e.g. "faces/001_1.jpg".
type Store struct {
	root string
}

// New creates the media directory under root.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(root, Dir), 0o755); err != nil {
		return nil, fmt.Errorf("creating media directory: %w", err)
	}
	return &Store{root: root}, nil
}

// Format returns the image format name ("jpeg", "png", ...) of data.
func Format(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty data", ErrUnsupportedImage)
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	return format, nil
}

func extension(format string) string {
	if format == "jpeg" {
		return ".jpg"
	}
	return "." + format
}

// Save stores capture n (1-based) of identity id and returns its relative path.
func (s *Store) Save(id string, n int, data []byte) (string, error) {
	format, err := Format(data)
	if err != nil {
		return "", fmt.Errorf("capture %d: %w", n, err)
	}
	rel := filepath.ToSlash(filepath.Join(Dir, fmt.Sprintf("%s_%d%s", id, n, extension(format))))
	if err := store.WriteFileAtomic(s.Abs(rel), data, 0o644); err != nil {
		return "", fmt.Errorf("saving capture %d: %w", n, err)
	}
	return rel, nil
}

// Abs resolves a relative media path.
func (s *Store) Abs(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

func (s *Store) resolve(rel string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("%w: %s", ErrInvalidPath, rel)
	}
	return filepath.Join(s.root, clean), nil
}

// Move relocates a media file into dstDir, keeping its base name.
// A file that no longer exists is not an error.
func (s *Store) Move(rel, dstDir string) error {
	src, err := s.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.Rename(src, filepath.Join(dstDir, filepath.Base(src))); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("moving %s: %w", rel, err)
	}
	return nil
}

// Remove deletes a media file. A missing file is not an error.
func (s *Store) Remove(rel string) error {
	p, err := s.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", rel, err)
	}
	return nil
}
