package sensor

import (
	"context"
	"math"
	"time"
)

// Reading is one temperature/humidity sample. Timestamp holds seconds since
// the Unix epoch, captured when the sample was parsed.
type Reading struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Timestamp   float64 `json:"timestamp"`
}

func NewReading(temperature, humidity float64, at time.Time) Reading {
	return Reading{
		Temperature: temperature,
		Humidity:    humidity,
		Timestamp:   float64(at.UnixNano()) / 1e9,
	}
}

// Time converts the epoch timestamp back to a time.Time.
func (r Reading) Time() time.Time {
	sec, frac := math.Modf(r.Timestamp)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// Sensor yields one Reading per Read call.
type Sensor interface {
	Read(ctx context.Context) (Reading, error)
	Close() error
}
