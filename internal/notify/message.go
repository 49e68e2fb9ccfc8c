package notify

import (
	"fmt"
	"strings"
	"time"
)

// IngestReport describes the relay when ingestion stopped.
type IngestReport struct {
	SnapshotRows     int
	SnapshotComplete bool
	Subscribers      int
	Err              error
}

// FormatSnapshotMessage creates a snapshot-ready notification body.
func FormatSnapshotMessage(rows int, elapsed time.Duration) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Rows: %d\n", rows))
	sb.WriteString(fmt.Sprintf("Elapsed: %s", elapsed.Round(time.Millisecond)))

	return sb.String()
}

// FormatIngestStoppedMessage creates an ingestion-stopped notification body.
func FormatIngestStoppedMessage(report IngestReport) string {
	var sb strings.Builder

	if report.SnapshotComplete {
		sb.WriteString(fmt.Sprintf("Snapshot: %d rows (frozen)\n", report.SnapshotRows))
	} else {
		sb.WriteString("Snapshot: not captured\n")
	}
	sb.WriteString(fmt.Sprintf("Subscribers: %d\n", report.Subscribers))
	sb.WriteString("Live updates: stopped")

	if report.Err != nil {
		sb.WriteString(fmt.Sprintf("\n\nError: %v", report.Err))
	}

	return sb.String()
}
