package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/andresmejia3/posesync/internal/store"
	"github.com/andresmejia3/posesync/internal/utils"
	"github.com/spf13/cobra"
)

var sessionsLimit int

var sessionsCmd = &cobra.Command{
	Use:         "sessions",
	Short:       "List recorded capture sessions",
	Annotations: map[string]string{dbAnnotation: dbRequired},
	Run: func(cmd *cobra.Command, args []string) {
		if err := runSessions(cmd.Context(), os.Stdout, DB, sessionsLimit); err != nil {
			utils.Die("Failed to list sessions", err, nil)
		}
	},
}

func init() {
	sessionsCmd.Flags().IntVarP(&sessionsLimit, "limit", "n", 20, "Show at most this many sessions (0 for all)")
	rootCmd.AddCommand(sessionsCmd)
}

// sessionLister is the part of the store the command needs.
type sessionLister interface {
	ListSessions(ctx context.Context, limit int) ([]store.Session, error)
}

func runSessions(ctx context.Context, out io.Writer, db sessionLister, limit int) error {
	sessions, err := db.ListSessions(ctx, limit)
	if err != nil {
		return err
	}

	if len(sessions) == 0 {
		fmt.Fprintln(out, "No capture sessions found in database.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tDEVICE\tSIZE\tSTARTED\tDURATION\tFRAMES\tPOSES")
	fmt.Fprintln(w, "--\t------\t----\t-------\t--------\t------\t-----")

	for _, s := range sessions {
		duration := "running"
		if s.StoppedAt != nil {
			duration = fmtDuration(s.StoppedAt.Sub(s.StartedAt))
		}
		fmt.Fprintf(w, "%s\t%s\t%dx%d\t%s\t%s\t%d\t%d\n",
			s.ID.String()[:8], s.Device, s.Width, s.Height,
			s.StartedAt.Local().Format("2006-01-02 15:04"), duration, s.Frames, s.Detections)
	}
	return w.Flush()
}

func fmtDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
