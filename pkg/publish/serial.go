package publish

import (
	"fmt"
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

// SerialPublisher writes the bare temperature, one line per update, to a
// serial port. A stale reading is written as "U", the unknown value of RRD.
type SerialPublisher struct {
	mu   sync.Mutex
	port io.WriteCloser
}

func NewSerialPublisher(name string, baud int) (*SerialPublisher, error) {
	port, err := serial.OpenPort(&serial.Config{Name: name, Baud: baud})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open serial port %s", name)
	}
	return newSerialPublisher(port), nil
}

func newSerialPublisher(port io.WriteCloser) *SerialPublisher {
	return &SerialPublisher{port: port}
}

func (obj *SerialPublisher) Publish(u Update) error {
	line := "U\n"
	if !u.Stale {
		line = fmt.Sprintf("%.1f\n", u.Reading.Temperature)
	}
	obj.mu.Lock()
	defer obj.mu.Unlock()
	if _, err := io.WriteString(obj.port, line); err != nil {
		return errors.Wrap(err, "failed to write serial line")
	}
	return nil
}

func (obj *SerialPublisher) Close() error {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	return obj.port.Close()
}
