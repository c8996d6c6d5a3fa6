package sensor

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrUnrecognized marks a line that does not have the "T = ..., H = ...%" shape.
	ErrUnrecognized = errors.New("unrecognized line")
	// ErrInvalidValue marks a recognized line whose numeric fields do not parse.
	ErrInvalidValue = errors.New("invalid value")
)

const (
	temperaturePrefix = "T ="
	humidityMarker    = ", H ="
)

// ParseLine extracts a Reading from a line such as "T = 23.5 C, H = 60.2%".
// The temperature is the first space separated token after "=" in the first
// comma segment; the humidity is the text before "%" in the second one.
func ParseLine(line string, at time.Time) (Reading, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, temperaturePrefix) || !strings.Contains(line, humidityMarker) {
		return Reading{}, ErrUnrecognized
	}
	parts := strings.Split(line, ",")
	temperature, err := fieldValue(parts[0], " ")
	if err != nil {
		return Reading{}, fmt.Errorf("temperature: %w", err)
	}
	humidity, err := fieldValue(parts[1], "%")
	if err != nil {
		return Reading{}, fmt.Errorf("humidity: %w", err)
	}
	return NewReading(temperature, humidity, at), nil
}

func fieldValue(segment, delim string) (float64, error) {
	kv := strings.Split(segment, "=")
	if len(kv) < 2 {
		return 0, fmt.Errorf("%w: missing '=' in %q", ErrInvalidValue, segment)
	}
	raw := strings.TrimSpace(kv[1])
	raw, _, _ = strings.Cut(raw, delim)
	raw = strings.TrimSpace(raw)
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidValue, raw)
	}
	// NaN and Inf cannot be stored as JSON numbers
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q is not finite", ErrInvalidValue, raw)
	}
	return v, nil
}
