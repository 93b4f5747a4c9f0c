package common

import (
	"sync"
	"time"

	"github.com/mazen160/go-random"
	"github.com/mbalug7/go-cc1101-oregon/pkg/hal"
	"github.com/pkg/errors"
	"github.com/warthog618/gpiod"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/spi"
	"periph.io/x/periph/conn/spi/spireg"
	"periph.io/x/periph/host"
)

// NoPin disables an optional GPIO line.
const NoPin = -1

// HWConfig describes how the transceiver is wired to the host.
type HWConfig struct {
	SPIPort  string // periph SPI port name, "" selects the first one
	SPISpeed int64  // bus clock in Hz
	GPIOChip string // e.g. gpiochip0
	SyncPin  int    // line offset of GDO2 (sync word detected, deasserts at end of packet)
	CSPin    int    // line offset of CSn when driven manually, NoPin if owned by the SPI driver
}

var _ hal.HWHandler = (*HWHandler)(nil)

type HWHandler struct {
	port          spi.PortCloser        // SPI port
	conn          spi.Conn              // SPI connection, mode 0, 8 bits
	chip          *gpiod.Chip           // GPIO chip holding the lines below
	SyncLine      *gpiod.Line           // GDO2 GPIO line
	CSLine        *gpiod.Line           // CSn GPIO line, nil when not driven manually
	syncWaitGroup map[string]chan error // holds channels that wait for falling GDO2 edge
	muSyncWait    sync.Mutex            // map protection mutex
	muBus         sync.Mutex            // one transaction on the bus at a time
}

func NewHWHandler(cfg HWConfig) (*HWHandler, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "failed to initialize host drivers")
	}
	handler := &HWHandler{
		syncWaitGroup: make(map[string]chan error),
	}

	var err error
	handler.port, err = spireg.Open(cfg.SPIPort)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open SPI port %q", cfg.SPIPort)
	}
	handler.conn, err = handler.port.Connect(physic.Frequency(cfg.SPISpeed)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		handler.port.Close()
		return nil, errors.Wrap(err, "failed to configure SPI connection")
	}

	handler.chip, err = gpiod.NewChip(cfg.GPIOChip, gpiod.WithConsumer("cc1101-oregon"))
	if err != nil {
		handler.port.Close()
		return nil, errors.Wrap(err, "failed to create GPIO chip")
	}

	handler.SyncLine, err = handler.chip.RequestLine(cfg.SyncPin,
		gpiod.WithEventHandler(handler.onSyncEdgeEvent), gpiod.WithBothEdges)
	if err != nil {
		handler.Close()
		return nil, errors.Wrap(err, "failed to request GDO2 GPIO line")
	}

	if cfg.CSPin != NoPin {
		handler.CSLine, err = handler.chip.RequestLine(cfg.CSPin, gpiod.AsOutput(1))
		if err != nil {
			handler.Close()
			return nil, errors.Wrap(err, "failed to request CSn GPIO line")
		}
	}
	return handler, nil
}

func (obj *HWHandler) Close() error {
	var firstErr error
	keep := func(err error, msg string) {
		if err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, msg)
		}
	}
	if obj.SyncLine != nil {
		keep(obj.SyncLine.Close(), "failed to close GDO2 line")
	}
	if obj.CSLine != nil {
		keep(obj.CSLine.Close(), "failed to close CSn line")
	}
	if obj.chip != nil {
		keep(obj.chip.Close(), "failed to close GPIO chip")
	}
	if obj.port != nil {
		keep(obj.port.Close(), "failed to close SPI port")
	}
	return firstErr
}

func (obj *HWHandler) tx(w []byte, r []byte) error {
	obj.muBus.Lock()
	defer obj.muBus.Unlock()
	return obj.conn.Tx(w, r)
}

func (obj *HWHandler) Strobe(command byte) error {
	if err := obj.tx([]byte{command}, nil); err != nil {
		return errors.Wrapf(err, "strobe 0x%02X failed", command)
	}
	return nil
}

func (obj *HWHandler) ReadRegister(address hal.RegAddress) (uint8, error) {
	w := []byte{address.ToByte() | hal.HeaderReadSingle, 0}
	r := make([]byte, 2)
	if err := obj.tx(w, r); err != nil {
		return 0, errors.Wrapf(err, "read of register 0x%02X failed", address.ToByte())
	}
	return r[1], nil
}

func (obj *HWHandler) WriteRegister(address hal.RegAddress, value uint8) error {
	if err := obj.tx([]byte{address.ToByte() | hal.HeaderWriteSingle, value}, nil); err != nil {
		return errors.Wrapf(err, "write of register 0x%02X failed", address.ToByte())
	}
	return nil
}

func (obj *HWHandler) ReadBurst(address hal.RegAddress, buf []byte) error {
	w := make([]byte, len(buf)+1)
	r := make([]byte, len(buf)+1)
	w[0] = address.ToByte() | hal.HeaderReadBurst
	if err := obj.tx(w, r); err != nil {
		return errors.Wrapf(err, "burst read at 0x%02X failed", address.ToByte())
	}
	copy(buf, r[1:])
	return nil
}

func (obj *HWHandler) WriteBurst(address hal.RegAddress, data []byte) error {
	w := make([]byte, len(data)+1)
	w[0] = address.ToByte() | hal.HeaderWriteBurst
	copy(w[1:], data)
	if err := obj.tx(w, nil); err != nil {
		return errors.Wrapf(err, "burst write at 0x%02X failed", address.ToByte())
	}
	return nil
}

func (obj *HWHandler) PulseChipSelect(low time.Duration, high time.Duration) error {
	if obj.CSLine == nil {
		// the SPI driver owns CSn, a NOP strobe gives the same framing
		err := obj.Strobe(0x3D)
		time.Sleep(high)
		return err
	}
	obj.muBus.Lock()
	defer obj.muBus.Unlock()
	if err := obj.CSLine.SetValue(0); err != nil {
		return errors.Wrap(err, "failed to pull CSn low")
	}
	time.Sleep(low)
	if err := obj.CSLine.SetValue(1); err != nil {
		return errors.Wrap(err, "failed to release CSn")
	}
	time.Sleep(high)
	return nil
}

func (obj *HWHandler) SyncAsserted() (bool, error) {
	val, err := obj.SyncLine.Value()
	if err != nil {
		return false, errors.Wrap(err, "failed to get GDO2 line value")
	}
	return val == 1, nil
}

func (obj *HWHandler) onSyncEdgeEvent(evt gpiod.LineEvent) {
	// GDO2 deasserts at the end of the packet, waiters can read the FIFO
	if evt.Type != gpiod.LineEventFallingEdge {
		return
	}
	obj.syncReleasedNotifyReceivers()
}

func (obj *HWHandler) syncReleasedNotifyReceivers() {
	obj.muSyncWait.Lock()
	defer obj.muSyncWait.Unlock()
	for id, ch := range obj.syncWaitGroup {
		ch <- nil
		close(ch)
		delete(obj.syncWaitGroup, id)
	}
}

func (obj *HWHandler) WaitSyncReleased(timeout time.Duration) error {
	ch := make(chan error, 1)
	id, err := random.String(16)
	if err != nil {
		return errors.Wrap(err, "failed to generate random id")
	}
	obj.muSyncWait.Lock()
	obj.syncWaitGroup[id] = ch
	obj.muSyncWait.Unlock()

	// registered before sampling, so an edge between the two is not lost
	asserted, err := obj.SyncAsserted()
	if err != nil || !asserted {
		obj.muSyncWait.Lock()
		delete(obj.syncWaitGroup, id)
		obj.muSyncWait.Unlock()
		return err
	}

	select {
	case <-time.After(timeout):
		obj.muSyncWait.Lock()
		delete(obj.syncWaitGroup, id)
		obj.muSyncWait.Unlock()
		return errors.New("GDO2 release waiting timeouted")
	case <-ch:
		return nil
	}
}
