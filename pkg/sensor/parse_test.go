package sensor

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestParseLine(t *testing.T) {
	at := time.Date(2025, 9, 19, 14, 41, 54, 500_000_000, time.UTC)
	tests := []struct {
		line string
		t, h float64
	}{
		{"T = 23.5 C, H = 60.2%", 23.5, 60.2},
		{"  T = 23.5 C, H = 60.2%  \r", 23.5, 60.2},
		{"T = -4.25 C, H = 98%", -4.25, 98},
		{"T = 0 C, H = 0.0% RH", 0, 0},
		{"T = 21.00, H = 45.10%", 21, 45.1},
		{"T = 1e1 C, H = 5e1%", 10, 50},
		{"T = 23.5 C, H = 60.2 %", 23.5, 60.2},
	}
	for _, tt := range tests {
		r, err := ParseLine(tt.line, at)
		if err != nil {
			t.Fatalf("ParseLine(%q): %v", tt.line, err)
		}
		if r.Temperature != tt.t || r.Humidity != tt.h {
			t.Fatalf("ParseLine(%q) = %+v; want t=%v h=%v", tt.line, r, tt.t, tt.h)
		}
		if math.Abs(r.Timestamp-1758292914.5) > 1e-6 {
			t.Fatalf("timestamp: got %f", r.Timestamp)
		}
	}
}

func TestParseLineUnrecognized(t *testing.T) {
	lines := []string{
		"",
		"Sensor ready",
		"H = 60.2%, T = 23.5 C",
		"T = 23.5 C",
		"t = 23.5 C, H = 60.2%",
		"T = 23.5 C,H = 60.2%",
		"Temp = 23.5 C, H = 60.2%",
	}
	for _, l := range lines {
		_, err := ParseLine(l, time.Now())
		if !errors.Is(err, ErrUnrecognized) {
			t.Fatalf("ParseLine(%q): want ErrUnrecognized, got %v", l, err)
		}
	}
}

func TestParseLineInvalidValue(t *testing.T) {
	lines := []string{
		"T = abc C, H = 60.2%",
		"T = 23.5 C, H = wet%",
		"T = , H = 60.2%",
		"T = 23.5 C, 7, H = 60%",
		"T = NaN C, H = 60%",
		"T = 20 C, H = +Inf%",
	}
	for _, l := range lines {
		_, err := ParseLine(l, time.Now())
		if !errors.Is(err, ErrInvalidValue) {
			t.Fatalf("ParseLine(%q): want ErrInvalidValue, got %v", l, err)
		}
	}
}

func TestReadingTimeRoundTrip(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 250_000_000, time.UTC)
	r := NewReading(1, 2, at)
	if d := r.Time().Sub(at); d > time.Microsecond || d < -time.Microsecond {
		t.Fatalf("Time() drift %v", d)
	}
}
