package console

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ericogr/serial-env-uploader/pkg/output"
	"github.com/ericogr/serial-env-uploader/pkg/sensor"
)

type ConsoleOutput struct {
	w io.Writer
}

func NewConsole() output.Output { return &ConsoleOutput{w: os.Stdout} }

func (c *ConsoleOutput) Publish(r sensor.Reading) error {
	_, err := fmt.Fprintf(c.w, "%s temperature=%.2f humidity=%.2f\n", r.Time().UTC().Format(time.RFC3339), r.Temperature, r.Humidity)
	return err
}

func (c *ConsoleOutput) Close() error { return nil }
