package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/attendance/internal/catalog"
	"github.com/kozaktomas/attendance/internal/facematch"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Enroll a new identity",
	Long: `Enroll a new identity from exactly five captures.

Captures are either landmark files (a JSON array of {"x","y","z"} points)
given with --landmarks, or images given with --images which are sent to the
landmark detector.

With --dir every subdirectory is enrolled as one identity named after the
directory; it must hold five landmark files or five images.`,
	Example: `  attendance enroll --name "Jan Novák" --landmarks f1.json,f2.json,f3.json,f4.json,f5.json
  attendance enroll --name "Jan Novák" --images 1.jpg,2.jpg,3.jpg,4.jpg,5.jpg
  attendance enroll --dir ./people --concurrency 4`,
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("name", "", "Display name of the identity")
	enrollCmd.Flags().StringSlice("landmarks", nil, "Landmark JSON files, one per capture")
	enrollCmd.Flags().StringSlice("images", nil, "Image files, one per capture")
	enrollCmd.Flags().String("dir", "", "Bulk enroll one identity per subdirectory")
	enrollCmd.Flags().Int("concurrency", 2, "Identities enrolled in parallel with --dir")
}

func runEnroll(cmd *cobra.Command, args []string) error {
	name := mustGetString(cmd, "name")
	landmarkFiles := mustGetStringSlice(cmd, "landmarks")
	imageFiles := mustGetStringSlice(cmd, "images")
	dir := mustGetString(cmd, "dir")

	if dir == "" && len(landmarkFiles) == 0 && len(imageFiles) == 0 {
		return errors.New("one of --landmarks, --images or --dir is required")
	}
	if len(landmarkFiles) > 0 && len(imageFiles) > 0 {
		return errors.New("--landmarks and --images are mutually exclusive")
	}

	c, err := openCore()
	if err != nil {
		return err
	}
	defer c.Close()

	ctx := context.Background()

	if dir != "" {
		return enrollDir(ctx, c, dir, mustGetInt(cmd, "concurrency"))
	}

	var ident *catalog.Identity
	if len(landmarkFiles) > 0 {
		ident, err = enrollLandmarkFiles(ctx, c, name, landmarkFiles)
	} else {
		ident, err = enrollImageFiles(ctx, c, name, imageFiles)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Enrolled %s as %s (%d signatures)\n", ident.DisplayName, ident.ID, len(ident.Signatures))
	return nil
}

func enrollLandmarkFiles(ctx context.Context, c *core, name string, paths []string) (*catalog.Identity, error) {
	captures := make([]catalog.Capture, 0, len(paths))
	for _, p := range paths {
		lm, err := readLandmarks(p)
		if err != nil {
			return nil, err
		}
		captures = append(captures, catalog.Capture{Landmarks: lm})
	}
	return c.catalog.Enroll(ctx, name, captures)
}

func enrollImageFiles(ctx context.Context, c *core, name string, paths []string) (*catalog.Identity, error) {
	images := make([][]byte, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p) //nolint:gosec // path comes from the operator
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		images = append(images, data)
	}
	return c.catalog.EnrollImages(ctx, name, images)
}

// readLandmarks loads one face's landmarks from a JSON file.
func readLandmarks(path string) (facematch.Landmarks, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var lm facematch.Landmarks
	if err := json.Unmarshal(data, &lm); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return lm, nil
}

// bulkEntry is one subdirectory of a bulk enrollment.
type bulkEntry struct {
	name  string
	files []string
	json  bool
}

func scanBulkDir(dir string) ([]bulkEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	var out []bulkEntry
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sub := filepath.Join(dir, e.Name())
		files, err := os.ReadDir(sub)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", sub, err)
		}

		entry := bulkEntry{name: e.Name()}
		for _, f := range files {
			if f.IsDir() || strings.HasPrefix(f.Name(), ".") {
				continue
			}
			entry.files = append(entry.files, filepath.Join(sub, f.Name()))
		}
		slices.Sort(entry.files)
		entry.json = len(entry.files) > 0 && !slices.ContainsFunc(entry.files, func(p string) bool {
			return !strings.EqualFold(filepath.Ext(p), ".json")
		})
		out = append(out, entry)
	}
	return out, nil
}

func enrollDir(ctx context.Context, c *core, dir string, concurrency int) error {
	entries, err := scanBulkDir(dir)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No subdirectories to enroll")
		return nil
	}
	if concurrency < 1 {
		concurrency = 1
	}

	bar := progressbar.NewOptions(len(entries),
		progressbar.OptionSetDescription("Enrolling"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("identities"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	var (
		mu       sync.Mutex
		enrolled []*catalog.Identity
		failures []string
	)

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for _, entry := range entries {
		wg.Add(1)
		go func(e bulkEntry) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			var ident *catalog.Identity
			var err error
			if e.json {
				ident, err = enrollLandmarkFiles(ctx, c, e.name, e.files)
			} else {
				ident, err = enrollImageFiles(ctx, c, e.name, e.files)
			}

			mu.Lock()
			if err != nil {
				failures = append(failures, fmt.Sprintf("%s: %v", e.name, err))
			} else {
				enrolled = append(enrolled, ident)
			}
			mu.Unlock()
			_ = bar.Add(1)
		}(entry)
	}
	wg.Wait()
	_ = bar.Finish()

	slices.SortFunc(enrolled, func(a, b *catalog.Identity) int {
		return facematch.CompareIDs(a.ID, b.ID)
	})
	slices.Sort(failures)

	fmt.Printf("\n\nEnrolled: %d, failed: %d\n", len(enrolled), len(failures))
	for _, ident := range enrolled {
		fmt.Printf("  %s  %s\n", ident.ID, ident.DisplayName)
	}
	for _, f := range failures {
		fmt.Printf("  failed %s\n", f)
	}
	if len(failures) > 0 {
		return fmt.Errorf("%d of %d identities failed to enroll", len(failures), len(entries))
	}
	return nil
}
