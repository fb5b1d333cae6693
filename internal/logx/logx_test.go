package logx

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestFormatLine(t *testing.T) {
	ts := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

	tests := []struct {
		name  string
		level slog.Level
		msg   string
		attrs []slog.Attr
		want  string
	}{
		{
			name:  "debug no attrs",
			level: slog.LevelDebug,
			msg:   "server started",
			want:  "2025-03-14T09:26:53Z DEBUG server started\n",
		},
		{
			name:  "warning with attr",
			level: slog.LevelWarn,
			msg:   "invalid message length",
			attrs: []slog.Attr{slog.Int("length", 0)},
			want:  "2025-03-14T09:26:53Z WARNING invalid message length length=0\n",
		},
		{
			name:  "critical",
			level: slog.LevelError,
			msg:   "unable to start the server",
			want:  "2025-03-14T09:26:53Z CRITICAL unable to start the server\n",
		},
		{
			name:  "fatal",
			level: LevelFatal,
			msg:   "listen failed",
			want:  "2025-03-14T09:26:53Z FATAL listen failed\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatLine(ts, tt.level, tt.msg, tt.attrs)
			if got != tt.want {
				t.Errorf("FormatLine() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLevelTagOrdering(t *testing.T) {
	// Every slog level maps onto one of the four engine.log tags.
	for _, l := range []slog.Level{slog.LevelDebug, slog.LevelInfo} {
		if got := levelTag(l); got != "DEBUG" {
			t.Errorf("levelTag(%v) = %q, want DEBUG", l, got)
		}
	}
	if got := levelTag(slog.LevelWarn); got != "WARNING" {
		t.Errorf("levelTag(Warn) = %q", got)
	}
	if got := levelTag(slog.LevelError); got != "CRITICAL" {
		t.Errorf("levelTag(Error) = %q", got)
	}
	if got := levelTag(LevelFatal); got != "FATAL" {
		t.Errorf("levelTag(Fatal) = %q", got)
	}
}

func TestHandlerTimestampIsISO8601(t *testing.T) {
	line := FormatLine(time.Now(), slog.LevelDebug, "x", nil)
	stamp := strings.SplitN(line, " ", 2)[0]
	if _, err := time.Parse(time.RFC3339, stamp); err != nil {
		t.Errorf("timestamp %q is not RFC3339: %v", stamp, err)
	}
}
