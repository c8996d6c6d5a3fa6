// Package output defines where readings go besides the store. Implementations
// live in subpackages.
package output

import "github.com/ericogr/serial-env-uploader/pkg/sensor"

// Output receives every reading the collector obtains, before it is stored.
type Output interface {
	Publish(sensor.Reading) error
	Close() error
}
