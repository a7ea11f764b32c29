package config

import (
	"testing"
	"time"
)

func TestIntervalSpan(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"FIFTEEN_MINUTE", 15 * time.Minute},
		{"fifteen_minute", 15 * time.Minute},
		{" ONE_MINUTE ", time.Minute},
		{"ONE_HOUR", time.Hour},
		{"ONE_DAY", 24 * time.Hour},
		{"", 15 * time.Minute},
		{"2minute", 15 * time.Minute},
	}
	for _, tc := range cases {
		c := &Config{Interval: tc.in}
		if got := c.IntervalSpan(); got != tc.want {
			t.Errorf("IntervalSpan(%q): got %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestLoad_StagingSkipsCredentials(t *testing.T) {
	t.Setenv("STAGING_MODE", "true")
	t.Setenv("ANGEL_API_KEY", "")
	t.Setenv("SQLITE_PATH", "/tmp/sig-test.db")

	cfg := Load()
	if !cfg.Staging {
		t.Fatal("expected staging mode")
	}
	if cfg.AngelAPIKey != "" {
		t.Errorf("staging load should not read credentials, got %q", cfg.AngelAPIKey)
	}
	if cfg.SQLitePath != "/tmp/sig-test.db" {
		t.Errorf("SQLitePath: got %q", cfg.SQLitePath)
	}
}

func TestGetEnv_Fallback(t *testing.T) {
	t.Setenv("SIG_TEST_PRESENT", "set")
	if got := getEnv("SIG_TEST_PRESENT", "fb"); got != "set" {
		t.Errorf("present var: got %q", got)
	}
	if got := getEnv("SIG_TEST_ABSENT", "fb"); got != "fb" {
		t.Errorf("absent var: got %q", got)
	}
}
