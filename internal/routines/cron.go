package routines

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// nextFire computes the next run time for a Cron trigger. An empty expr
// marks a one-shot reminder whose fire time was pinned directly on the
// Routine's NextFireAt; nextFire then reports no further occurrence.
func nextFire(expr string, after time.Time) (time.Time, bool, error) {
	if expr == "" {
		return time.Time{}, false, nil
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	next := schedule.Next(after)
	if next.IsZero() {
		return time.Time{}, false, nil
	}
	return next, true, nil
}
