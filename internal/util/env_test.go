package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	cases := []struct {
		value string
		def   bool
		want  bool
	}{
		{"true", false, true},
		{"1", false, true},
		{"YES", false, true},
		{"off", true, false},
		{"0", true, false},
		{"", true, true},
		{"garbage", false, false},
	}
	for _, tc := range cases {
		t.Setenv("CARELOOP_TEST_BOOL", tc.value)
		if got := ParseBoolEnv("CARELOOP_TEST_BOOL", tc.def); got != tc.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tc.value, tc.def, got, tc.want)
		}
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("CARELOOP_TEST_DUR", "45m")
	if got := ParseDurationEnv("CARELOOP_TEST_DUR", time.Minute); got != 45*time.Minute {
		t.Errorf("ParseDurationEnv = %v, want 45m", got)
	}

	t.Setenv("CARELOOP_TEST_DUR", "not a duration")
	if got := ParseDurationEnv("CARELOOP_TEST_DUR", time.Minute); got != time.Minute {
		t.Errorf("invalid value must return default, got %v", got)
	}
}

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("CARELOOP_TEST_STR", "")
	if got := GetEnvOrDefault("CARELOOP_TEST_STR", "fallback"); got != "fallback" {
		t.Errorf("empty env must return default, got %q", got)
	}
	t.Setenv("CARELOOP_TEST_STR", "value")
	if got := GetEnvOrDefault("CARELOOP_TEST_STR", "fallback"); got != "value" {
		t.Errorf("set env must win, got %q", got)
	}
}
