package console

import (
	"strconv"
	"time"

	"github.com/sydlexius/massaction/internal/batch"
)

// statusLabel returns a human-readable label for a job status.
func statusLabel(status string) string {
	switch status {
	case batch.StatusPending:
		return "Pending"
	case batch.StatusRunning:
		return "Running"
	case batch.StatusCompleted:
		return "Completed"
	case batch.StatusCanceled:
		return "Canceled"
	case batch.StatusInterrupted:
		return "Interrupted"
	default:
		return status
	}
}

// outcomeLabel returns a human-readable label for a chunk outcome.
func outcomeLabel(outcome string) string {
	switch batch.ChunkStatus(outcome) {
	case batch.ChunkOK:
		return "Done"
	case batch.ChunkFailed:
		return "Failed"
	case batch.ChunkAborted:
		return "Aborted"
	default:
		return outcome
	}
}

// truncateText truncates a string to maxLen runes, appending "..." if truncated.
func truncateText(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

func formatETA(eta *float64) string {
	if eta == nil {
		return "-"
	}
	d := time.Duration(*eta * float64(time.Second)).Round(time.Second)
	return d.String()
}

func percent(done, total int) string {
	if total <= 0 {
		return "0"
	}
	return strconv.Itoa(done * 100 / total)
}
