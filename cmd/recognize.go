package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/attendance/internal/attendance"
	"github.com/kozaktomas/attendance/internal/recognition"
)

var recognizeCmd = &cobra.Command{
	Use:   "recognize",
	Short: "Recognize a face against the enrolled identities",
	Long: `Recognize one capture. Pass either a landmark file (a JSON array of
{"x","y","z"} points) or an image, which is sent to the landmark detector
and may yield several faces.

With --mark every recognized face is also recorded as present.`,
	RunE: runRecognize,
}

func init() {
	rootCmd.AddCommand(recognizeCmd)

	recognizeCmd.Flags().String("landmarks", "", "Landmark JSON file of one face")
	recognizeCmd.Flags().String("image", "", "Image file")
	recognizeCmd.Flags().Bool("mark", false, "Mark recognized identities present")
	recognizeCmd.Flags().Bool("json", false, "Print results as JSON")
}

func runRecognize(cmd *cobra.Command, args []string) error {
	landmarksPath := mustGetString(cmd, "landmarks")
	imagePath := mustGetString(cmd, "image")
	mark := mustGetBool(cmd, "mark")
	asJSON := mustGetBool(cmd, "json")

	if (landmarksPath == "") == (imagePath == "") {
		return errors.New("exactly one of --landmarks or --image is required")
	}

	c, err := openCore()
	if err != nil {
		return err
	}
	defer c.Close()

	ctx := context.Background()

	var results []recognition.Result
	if landmarksPath != "" {
		lm, err := readLandmarks(landmarksPath)
		if err != nil {
			return err
		}
		res, err := c.recognition.Recognize(ctx, lm)
		if err != nil {
			return err
		}
		results = []recognition.Result{res}
	} else {
		data, err := os.ReadFile(imagePath) //nolint:gosec // path comes from the operator
		if err != nil {
			return fmt.Errorf("reading %s: %w", imagePath, err)
		}
		results, err = c.recognition.RecognizeImage(ctx, data)
		if err != nil {
			return err
		}
	}

	var (
		events   []attendance.Event
		failures []error
	)
	if mark {
		for _, r := range results {
			if !r.Matched {
				continue
			}
			ev, err := c.ledger.MarkAutomatic(ctx, r.IdentityID)
			if err != nil {
				failures = append(failures, fmt.Errorf("marking %s: %w", r.IdentityID, err))
				continue
			}
			events = append(events, *ev)
		}
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(map[string]any{"results": results, "events": events}); err != nil {
			return err
		}
		return errors.Join(failures...)
	}

	for i, r := range results {
		fmt.Printf("Face %d: %s\n", i+1, describeResult(r))
	}
	for _, ev := range events {
		fmt.Printf("Marked %s (%s) %s at %s\n", ev.DisplayName, ev.IdentityID, ev.Status, ev.Timestamp.Format("2006-01-02 15:04:05"))
	}
	return errors.Join(failures...)
}

func describeResult(r recognition.Result) string {
	switch r.Status {
	case recognition.StatusRecognized:
		return fmt.Sprintf("%s (%s), distance %.4f", r.DisplayName, r.IdentityID, *r.Distance)
	case recognition.StatusNoFace:
		return "no face detected"
	default:
		if r.Distance != nil {
			return fmt.Sprintf("unknown, %s (closest %.4f)", r.Reason, *r.Distance)
		}
		return "unknown, " + r.Reason
	}
}
