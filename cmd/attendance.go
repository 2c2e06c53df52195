package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/attendance/internal/attendance"
	"github.com/kozaktomas/attendance/internal/store"
)

const displayLayout = "2006-01-02 15:04:05"

var attendanceCmd = &cobra.Command{
	Use:   "attendance",
	Short: "Record and review attendance",
}

var attendanceMarkCmd = &cobra.Command{
	Use:   "mark <id>",
	Short: "Mark an identity present now",
	Args:  cobra.ExactArgs(1),
	RunE:  runAttendanceMark,
}

var attendanceManualCmd = &cobra.Command{
	Use:   "manual <id>",
	Short: "Record a manual attendance entry",
	Args:  cobra.ExactArgs(1),
	RunE:  runAttendanceManual,
}

var attendanceLogCmd = &cobra.Command{
	Use:   "log",
	Short: "Show attendance records, newest first",
	Args:  cobra.NoArgs,
	RunE:  runAttendanceLog,
}

var attendanceEditCmd = &cobra.Command{
	Use:   "edit <event-id>",
	Short: "Change the status or time of a record",
	Args:  cobra.ExactArgs(1),
	RunE:  runAttendanceEdit,
}

var attendanceDeleteCmd = &cobra.Command{
	Use:   "delete <event-id>",
	Short: "Delete one record",
	Args:  cobra.ExactArgs(1),
	RunE:  runAttendanceDelete,
}

var attendanceClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every record",
	Args:  cobra.NoArgs,
	RunE:  runAttendanceClear,
}

func init() {
	rootCmd.AddCommand(attendanceCmd)
	attendanceCmd.AddCommand(attendanceMarkCmd, attendanceManualCmd, attendanceLogCmd,
		attendanceEditCmd, attendanceDeleteCmd, attendanceClearCmd)

	attendanceManualCmd.Flags().String("status", string(attendance.StatusPresent), "present, absent or excused")
	attendanceManualCmd.Flags().String("at", "", "Time of the entry (RFC 3339 or 2006-01-02T15:04:05), defaults to now")

	attendanceLogCmd.Flags().String("identity", "", "Only show records of this identity")

	attendanceEditCmd.Flags().String("status", "", "New status")
	attendanceEditCmd.Flags().String("at", "", "New time")

	attendanceClearCmd.Flags().Bool("yes", false, "Confirm deleting every record")
}

// parseAt parses an --at value; empty yields nil.
func parseAt(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	ts, err := store.ParseTimestamp(s)
	if err != nil {
		return nil, fmt.Errorf("invalid --at: %w", err)
	}
	return &ts.Time, nil
}

func printEvent(ev attendance.Event) {
	edited := ""
	if ev.EditedAt != nil {
		edited = " (edited)"
	}
	fmt.Printf("%-36s %-8s %-24s %-8s %-6s %s%s\n", ev.ID, ev.IdentityID, ev.DisplayName, ev.Status, ev.Source,
		ev.Timestamp.Local().Format(displayLayout), edited)
}

func runAttendanceMark(cmd *cobra.Command, args []string) error {
	c, err := openCore()
	if err != nil {
		return err
	}
	defer c.Close()

	ev, err := c.ledger.MarkAutomatic(context.Background(), args[0])
	if err != nil {
		return err
	}
	printEvent(*ev)
	return nil
}

func runAttendanceManual(cmd *cobra.Command, args []string) error {
	status, err := attendance.ParseStatus(mustGetString(cmd, "status"))
	if err != nil {
		return err
	}
	at, err := parseAt(mustGetString(cmd, "at"))
	if err != nil {
		return err
	}

	c, err := openCore()
	if err != nil {
		return err
	}
	defer c.Close()

	ev, err := c.ledger.MarkManual(context.Background(), args[0], status, at)
	if err != nil {
		return err
	}
	printEvent(*ev)
	return nil
}

func runAttendanceLog(cmd *cobra.Command, args []string) error {
	c, err := openCore()
	if err != nil {
		return err
	}
	defer c.Close()

	ctx := context.Background()
	var events []attendance.Event
	if id := mustGetString(cmd, "identity"); id != "" {
		events, err = c.ledger.ForIdentity(ctx, id)
	} else {
		events, err = c.ledger.List(ctx)
	}
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Println("No attendance records")
		return nil
	}

	for _, ev := range events {
		printEvent(ev)
	}
	fmt.Printf("\nTotal: %d\n", len(events))
	return nil
}

func runAttendanceEdit(cmd *cobra.Command, args []string) error {
	var u attendance.Update
	if s := mustGetString(cmd, "status"); s != "" {
		status, err := attendance.ParseStatus(s)
		if err != nil {
			return err
		}
		u.Status = &status
	}
	at, err := parseAt(mustGetString(cmd, "at"))
	if err != nil {
		return err
	}
	u.Timestamp = at
	if u.Status == nil && u.Timestamp == nil {
		return errors.New("nothing to change, pass --status or --at")
	}

	c, err := openCore()
	if err != nil {
		return err
	}
	defer c.Close()

	ev, err := c.ledger.Edit(context.Background(), args[0], u)
	if err != nil {
		return err
	}
	printEvent(*ev)
	return nil
}

func runAttendanceDelete(cmd *cobra.Command, args []string) error {
	c, err := openCore()
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.ledger.Delete(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted %s\n", args[0])
	return nil
}

func runAttendanceClear(cmd *cobra.Command, args []string) error {
	if !mustGetBool(cmd, "yes") {
		return errors.New("refusing to delete every record without --yes")
	}

	c, err := openCore()
	if err != nil {
		return err
	}
	defer c.Close()

	n, err := c.ledger.DeleteAll(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d records\n", n)
	return nil
}
