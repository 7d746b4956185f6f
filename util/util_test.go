package util_test

import (
	"testing"
	"time"

	"github.com/gilbo123/spincam/util"
)

func TestClampHigh(t *testing.T) {
	var (
		low   = 0.
		high  = 10.
		input = 20.
	)
	clamped := util.Clamp(input, low, high)
	if clamped == input {
		t.Errorf("expected out of range value %f to be clipped to %f < x < %f, got %f", input, low, high, clamped)
	}
}

func TestClampLow(t *testing.T) {
	var (
		low   = 0.
		high  = 10.
		input = -1.
	)
	clamped := util.Clamp(input, low, high)
	if clamped == input {
		t.Errorf("expected out of range value %f to be clipped to %f < x < %f, got %f", input, low, high, clamped)
	}
}

func TestClampInRange(t *testing.T) {
	var (
		low   = 0.
		high  = 10.
		input = 5.
	)
	clamped := util.Clamp(input, low, high)
	if clamped != input {
		t.Errorf("expected in-range value %f to pass through, got %f", input, clamped)
	}
}

func TestSecsToDuration(t *testing.T) {
	var dur time.Duration = 123456789
	secs := dur.Seconds()
	out := util.SecsToDuration(secs)
	if out != dur {
		t.Errorf("expected SecsToDuration to round trip, output %v != expected %v", out, dur)
	}
}
