package epoch

import (
	"fmt"
	"time"
)

// WeekKey returns the ISO-week period identifier for t, e.g. "2026-W35".
// Epochs are built once per ISO week; the key is human-facing and also the
// uniqueness guard per encoding version.
func WeekKey(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}
