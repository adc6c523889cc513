package observability

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		env, level string
		want       zapcore.Level
	}{
		{"development", "", zapcore.DebugLevel},
		{"dev", "", zapcore.DebugLevel},
		{"production", "", zapcore.InfoLevel},
		{"", "", zapcore.InfoLevel},
		{"development", "WARN", zapcore.WarnLevel},
		{"production", "error", zapcore.ErrorLevel},
		{"production", "loud", zapcore.InfoLevel},
	}
	for _, c := range cases {
		if got := ParseLevel(c.env, c.level); got != c.want {
			t.Fatalf("ParseLevel(%q, %q) = %v, want %v", c.env, c.level, got, c.want)
		}
	}
}

func TestShouldSampleBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		if !ShouldSample(1) {
			t.Fatalf("rate 1 must always sample")
		}
		if ShouldSample(0) {
			t.Fatalf("rate 0 must never sample")
		}
	}
}

func TestSamplingRate(t *testing.T) {
	if SamplingRate("dev") != 1.0 || SamplingRate("staging") != 0.5 || SamplingRate("production") != 0.1 {
		t.Fatalf("unexpected sampling rates")
	}
}
