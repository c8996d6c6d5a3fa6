package sensor

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// FakeSensor produces plausible indoor readings without hardware.
type FakeSensor struct {
	mu  sync.Mutex
	rnd *rand.Rand
	now func() time.Time
}

func NewFakeSensor() Sensor {
	return &FakeSensor{rnd: rand.New(rand.NewSource(time.Now().UnixNano())), now: time.Now}
}

func (f *FakeSensor) Read(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	// two decimals, like the serial sketch prints
	temperature := float64(1800+f.rnd.Intn(1000)) / 100
	humidity := float64(3000+f.rnd.Intn(4000)) / 100
	return NewReading(temperature, humidity, f.now()), nil
}

func (f *FakeSensor) Close() error { return nil }
