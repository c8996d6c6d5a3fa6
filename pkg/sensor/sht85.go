package sensor

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/ericogr/serial-env-uploader/pkg/config"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

const (
	cmdMeasureHighRepeatability = 0x2400
	cmdSoftReset                = 0x30A2
	crcPolynomial               = 0x31
	measureDelay                = 16 * time.Millisecond
)

// conn is satisfied by *i2c.Dev.
type conn interface {
	Tx(w, r []byte) error
}

// SHT85Sensor reads temperature and humidity from a Sensirion SHT85 over I2C.
type SHT85Sensor struct {
	dev conn
	bus i2c.BusCloser
	now func() time.Time
}

func NewSHT85Sensor(cfg config.I2CConfig) (Sensor, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	bus, err := i2creg.Open(cfg.Bus)
	if err != nil {
		return nil, fmt.Errorf("open i2c: %w", err)
	}
	s := &SHT85Sensor{dev: &i2c.Dev{Addr: uint16(cfg.Address), Bus: bus}, bus: bus, now: time.Now}
	if err := s.command(cmdSoftReset); err != nil {
		bus.Close()
		return nil, fmt.Errorf("sht85 reset: %w", err)
	}
	time.Sleep(2 * time.Millisecond)
	return s, nil
}

func (s *SHT85Sensor) Close() error {
	if s.bus != nil {
		return s.bus.Close()
	}
	return nil
}

func (s *SHT85Sensor) Read(ctx context.Context) (Reading, error) {
	if err := s.command(cmdMeasureHighRepeatability); err != nil {
		return Reading{}, fmt.Errorf("start measurement: %w", err)
	}
	if err := sleepContext(ctx, measureDelay); err != nil {
		return Reading{}, err
	}
	buf := make([]byte, 6)
	if err := s.dev.Tx(nil, buf); err != nil {
		return Reading{}, fmt.Errorf("read measurement: %w", err)
	}
	temperature, humidity, err := decodeSHT85(buf)
	if err != nil {
		return Reading{}, err
	}
	return NewReading(temperature, humidity, s.now()), nil
}

func (s *SHT85Sensor) command(cmd uint16) error {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, cmd)
	return s.dev.Tx(b, nil)
}

// decodeSHT85 checks both CRC bytes of a 6 byte measurement and converts the
// raw words to °C and %RH.
func decodeSHT85(buf []byte) (float64, float64, error) {
	if len(buf) != 6 {
		return 0, 0, fmt.Errorf("measurement: got %d bytes, want 6", len(buf))
	}
	if c := crc8(buf[0:2]); c != buf[2] {
		return 0, 0, fmt.Errorf("temperature crc mismatch: calculated %02x, received %02x", c, buf[2])
	}
	if c := crc8(buf[3:5]); c != buf[5] {
		return 0, 0, fmt.Errorf("humidity crc mismatch: calculated %02x, received %02x", c, buf[5])
	}
	rawT := binary.BigEndian.Uint16(buf[0:2])
	rawH := binary.BigEndian.Uint16(buf[3:5])
	temperature := -45 + 175*float64(rawT)/65535
	humidity := 100 * float64(rawH) / 65535
	return temperature, humidity, nil
}

func crc8(data []byte) byte {
	crc := byte(0xFF)
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ crcPolynomial
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
