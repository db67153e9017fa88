package storage

import (
	"log/slog"
	"time"
)

// timestampLayouts are the formats a reader accepts, in order: canonical
// RFC 3339, then two space-separated variants occasionally produced by
// older writers or manual inserts.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05Z07:00",
}

// nowRFC3339 formats the current time with millisecond precision, the
// write-side format for every timestamp column (spec §6).
func nowRFC3339() string {
	return formatRFC3339(time.Now())
}

func formatRFC3339(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// parseTimestamp accepts RFC 3339 and its two space-separated variants. A
// value that fails to parse returns the Unix epoch and logs a warning; it
// never falls back to "now", which would silently fabricate history.
func parseTimestamp(value string) time.Time {
	if value == "" {
		return time.Unix(0, 0).UTC()
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	slog.Warn("storage: unparseable timestamp, using epoch", "value", value)
	return time.Unix(0, 0).UTC()
}

func parseTimestampPtr(value *string) *time.Time {
	if value == nil {
		return nil
	}
	t := parseTimestamp(*value)
	return &t
}

func formatTimestampPtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatRFC3339(*t)
	return &s
}
