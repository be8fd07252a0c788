package sysinfo

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 * 1024 * 1024 * 1024, "5.0 GiB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.in); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{42 * time.Second, "42s"},
		{3*time.Minute + 5*time.Second, "3m 5s"},
		{2*time.Hour + 1*time.Second, "2h 0m 1s"},
		{49*time.Hour + 30*time.Minute, "2d 1h 30m 0s"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.in); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCollect(t *testing.T) {
	s := Collect(context.Background(), time.Now().Add(-time.Minute), "")
	if s.GoVersion == "" || s.Goroutines == 0 {
		t.Errorf("runtime fields missing: %+v", s)
	}
	if s.Uptime < time.Minute {
		t.Errorf("uptime = %v", s.Uptime)
	}
	if !strings.Contains(s.Summary(), "*Runtime:*") {
		t.Errorf("summary = %q", s.Summary())
	}
}
