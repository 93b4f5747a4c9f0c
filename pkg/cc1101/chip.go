package cc1101

import (
	"io"
	"sync"
	"time"

	"github.com/mbalug7/go-cc1101-oregon/pkg/hal"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	DefaultMaxStatePolls = 10000
	DefaultSyncTimeout   = 500 * time.Millisecond

	settleDelay = 100 * time.Microsecond
	resetDelay  = time.Millisecond
)

// Option configures a Chip.
type Option func(*Chip)

// WithLogger sets the logger, the default one discards everything.
func WithLogger(log logrus.FieldLogger) Option {
	return func(obj *Chip) {
		obj.log = log
	}
}

// WithMaxStatePolls bounds the number of MARCSTATE reads per state transition.
func WithMaxStatePolls(polls int) Option {
	return func(obj *Chip) {
		if polls > 0 {
			obj.maxStatePolls = polls
		}
	}
}

// WithSyncTimeout bounds the wait for GDO2 release in BurstPending.
func WithSyncTimeout(timeout time.Duration) Option {
	return func(obj *Chip) {
		if timeout > 0 {
			obj.syncTimeout = timeout
		}
	}
}

// WithSleep replaces time.Sleep for the datasheet settle delays.
func WithSleep(sleep func(time.Duration)) Option {
	return func(obj *Chip) {
		if sleep != nil {
			obj.sleep = sleep
		}
	}
}

// Chip drives a CC1101 through a register/FIFO transport.
// It is the only owner of the chip state.
type Chip struct {
	hw            hal.HWHandler
	log           logrus.FieldLogger
	maxStatePolls int
	syncTimeout   time.Duration
	sleep         func(time.Duration)

	mu       sync.Mutex
	config   ChipConfig
	identity Identity
	state    hal.ChipState
}

func NewChip(hw hal.HWHandler, opts ...Option) *Chip {
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	ch := &Chip{
		hw:            hw,
		log:           discard,
		maxStatePolls: DefaultMaxStatePolls,
		syncTimeout:   DefaultSyncTimeout,
		sleep:         time.Sleep,
		state:         hal.StateUnknown,
	}
	for _, opt := range opts {
		opt(ch)
	}
	return ch
}

// Configure resets the chip, verifies it is present, writes the register
// image and the PA table and leaves the chip receiving.
func (obj *Chip) Configure(cfg ChipConfig) error {
	obj.mu.Lock()
	defer obj.mu.Unlock()

	obj.log.Debug("init CC1101")
	if err := obj.hw.PulseChipSelect(10*time.Microsecond, 40*time.Microsecond); err != nil {
		return errors.Wrap(err, "failed to pulse CSn")
	}
	if err := obj.hw.Strobe(SRES); err != nil {
		return errors.Wrap(err, "failed to reset chip")
	}
	obj.sleep(resetDelay)
	obj.state = hal.StateIdle

	if err := obj.strobeSettle(SFTX); err != nil {
		return errors.Wrap(err, "failed to flush TX FIFO")
	}
	if err := obj.strobeSettle(SFRX); err != nil {
		return errors.Wrap(err, "failed to flush RX FIFO")
	}

	partNum, err := obj.hw.ReadRegister(PARTNUM)
	if err != nil {
		return errors.Wrap(err, "failed to read part number")
	}
	version, err := obj.hw.ReadRegister(VERSION)
	if err != nil {
		return errors.Wrap(err, "failed to read version")
	}
	// PARTNUM of a CC1101 is 0x00, only VERSION tells a floating bus apart
	if version == 0x00 || version == 0xFF {
		obj.state = hal.StateUnknown
		return errors.Wrapf(ErrDeviceNotFound, "version register reads 0x%02X", version)
	}
	obj.identity = Identity{PartNum: partNum, Version: version}
	obj.log.WithFields(logrus.Fields{
		"partnum": partNum,
		"version": version,
	}).Info("CC1101 found")

	if err := obj.writeConfig(cfg); err != nil {
		return err
	}
	return obj.enterReceive()
}

// EnterIdle strobes SIDLE and waits for MARCSTATE IDLE.
func (obj *Chip) EnterIdle() error {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	return obj.enterIdle()
}

// EnterReceive goes through idle to RX and waits for MARCSTATE RX.
func (obj *Chip) EnterReceive() error {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	return obj.enterReceive()
}

// BurstPending reports whether a burst has been received. When GDO2 is
// asserted a sync word was detected, the call blocks until the line is
// released at the end of the packet.
func (obj *Chip) BurstPending() (bool, error) {
	asserted, err := obj.hw.SyncAsserted()
	if err != nil {
		return false, errors.Wrap(err, "failed to sample GDO2")
	}
	if !asserted {
		return false, nil
	}
	if err := obj.hw.WaitSyncReleased(obj.syncTimeout); err != nil {
		// stuck line, the following read flushes the FIFO and restarts RX
		obj.log.WithError(err).Warn("GDO2 not released")
	}
	return true, nil
}

// ReadBurst reads the RX FIFO. Whatever the outcome the FIFO is flushed and
// the chip is put back into receive mode.
func (obj *Chip) ReadBurst() (RawBurst, error) {
	obj.mu.Lock()
	defer obj.mu.Unlock()

	var burst RawBurst
	readErr := obj.readFIFO(&burst)
	if err := obj.recoverRX(); err != nil {
		return burst, err
	}
	if readErr != nil {
		return RawBurst{}, readErr
	}
	obj.log.WithField("len", burst.Len).Debugf("RX FIFO: % X", burst.Bytes())
	return burst, nil
}

// Recover flushes the RX FIFO and restarts receive mode.
func (obj *Chip) Recover() error {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	return obj.recoverRX()
}

// EnableSleepPolling enables wake on radio: EVENT0 ~1.89 s, EVENT1 ~1.385 ms, RX_TIME 1.
func (obj *Chip) EnableSleepPolling() error {
	obj.mu.Lock()
	defer obj.mu.Unlock()

	if err := obj.enterIdle(); err != nil {
		return err
	}
	writes := []struct {
		reg   hal.RegAddress
		value uint8
	}{
		{MCSM0, 0x18},   // FS autocalibration
		{MCSM2, 0x01},   // RX_TIME = 1
		{WOREVT1, 0xFF}, // EVENT0 high byte
		{WOREVT0, 0x7F}, // EVENT0 low byte
		{WORCTRL, 0x78}, // WOR_RES = 0, EVENT1 = 48 clock periods
	}
	for _, w := range writes {
		if err := obj.hw.WriteRegister(w.reg, w.value); err != nil {
			return errors.Wrapf(err, "failed to write %s", RegisterName(w.reg))
		}
		obj.config.Registers[w.reg] = w.value
	}
	return obj.startSleepPolling()
}

// DisableSleepPolling leaves wake on radio and keeps RX without timeout.
func (obj *Chip) DisableSleepPolling() error {
	obj.mu.Lock()
	defer obj.mu.Unlock()

	if err := obj.enterIdle(); err != nil {
		return err
	}
	if err := obj.hw.WriteRegister(MCSM2, 0x07); err != nil {
		return errors.Wrap(err, "failed to write MCSM2")
	}
	obj.config.Registers[MCSM2] = 0x07
	return nil
}

// ResetSleepTimer restarts the wake on radio timer.
func (obj *Chip) ResetSleepTimer() error {
	obj.mu.Lock()
	defer obj.mu.Unlock()

	if err := obj.enterIdle(); err != nil {
		return err
	}
	if err := obj.hw.WriteRegister(MCSM2, 0x01); err != nil {
		return errors.Wrap(err, "failed to write MCSM2")
	}
	obj.config.Registers[MCSM2] = 0x01
	return obj.startSleepPolling()
}

// PowerDown idles the chip and enters power down.
func (obj *Chip) PowerDown() error {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	return obj.powerDown()
}

// WakeUp pulses CSn and returns to receive mode.
func (obj *Chip) WakeUp() error {
	obj.mu.Lock()
	defer obj.mu.Unlock()

	if err := obj.hw.PulseChipSelect(10*time.Microsecond, 10*time.Microsecond); err != nil {
		return errors.Wrap(err, "failed to pulse CSn")
	}
	obj.state = hal.StateIdle
	return obj.enterReceive()
}

// ReadConfig reads back all configuration registers and the PA table.
func (obj *Chip) ReadConfig() (ChipConfig, error) {
	obj.mu.Lock()
	defer obj.mu.Unlock()

	var cfg ChipConfig
	if err := obj.hw.ReadBurst(IOCFG2, cfg.Registers[:]); err != nil {
		return cfg, errors.Wrap(err, "failed to read configuration registers")
	}
	if err := obj.hw.ReadBurst(PATABLE, cfg.PATable[:]); err != nil {
		return cfg, errors.Wrap(err, "failed to read PA table")
	}
	return cfg, nil
}

// WriteConfig writes a new register image and PA table and restores receive mode.
func (obj *Chip) WriteConfig(cfg ChipConfig) error {
	obj.mu.Lock()
	defer obj.mu.Unlock()

	if err := obj.enterIdle(); err != nil {
		return err
	}
	if err := obj.writeConfig(cfg); err != nil {
		return err
	}
	return obj.enterReceive()
}

// SetPATable writes the output power table.
func (obj *Chip) SetPATable(table [PATableSize]uint8) error {
	obj.mu.Lock()
	defer obj.mu.Unlock()

	if err := obj.hw.WriteBurst(PATABLE, table[:]); err != nil {
		return errors.Wrap(err, "failed to write PA table")
	}
	obj.config.PATable = table
	return nil
}

// WriteTxBurst frames payload as [length, rxAddr, myAddr, payload...] and
// writes it to the TX FIFO. The length byte excludes itself.
func (obj *Chip) WriteTxBurst(myAddr uint8, rxAddr uint8, payload []byte) error {
	frame := make([]byte, len(payload)+3)
	if len(frame) > FIFOSize {
		return errors.Wrapf(ErrPayloadTooLong, "%d bytes framed", len(frame))
	}
	frame[0] = uint8(len(frame) - 1)
	frame[1] = rxAddr
	frame[2] = myAddr
	copy(frame[3:], payload)

	obj.mu.Lock()
	defer obj.mu.Unlock()
	if err := obj.hw.WriteBurst(FIFO, frame); err != nil {
		return errors.Wrap(err, "failed to write TX FIFO")
	}
	obj.log.Debugf("TX FIFO: % X", frame)
	return nil
}

// Config returns the register image last written to the chip.
func (obj *Chip) Config() ChipConfig {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	return obj.config
}

// Identity returns PARTNUM and VERSION read on Configure.
func (obj *Chip) Identity() Identity {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	return obj.identity
}

// State returns the last state the chip was verified or commanded to be in.
func (obj *Chip) State() hal.ChipState {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	return obj.state
}

// Close powers the chip down and releases the transport.
func (obj *Chip) Close() error {
	obj.mu.Lock()
	defer obj.mu.Unlock()

	pdErr := obj.powerDown()
	if err := obj.hw.Close(); err != nil {
		return errors.Wrap(err, "failed to close transport")
	}
	return pdErr
}

func (obj *Chip) strobeSettle(command byte) error {
	if err := obj.hw.Strobe(command); err != nil {
		return err
	}
	obj.sleep(settleDelay)
	return nil
}

func (obj *Chip) writeConfig(cfg ChipConfig) error {
	if err := obj.hw.WriteBurst(IOCFG2, cfg.Registers[:]); err != nil {
		return errors.Wrap(err, "failed to write configuration registers")
	}
	if err := obj.hw.WriteBurst(PATABLE, cfg.PATable[:]); err != nil {
		return errors.Wrap(err, "failed to write PA table")
	}
	obj.config = cfg
	return nil
}

func (obj *Chip) waitMarcState(want uint8) error {
	for i := 0; i < obj.maxStatePolls; i++ {
		value, err := obj.hw.ReadRegister(MARCSTATE)
		if err != nil {
			return errors.Wrap(err, "failed to read MARCSTATE")
		}
		if value&marcStateMask == want {
			obj.sleep(settleDelay)
			return nil
		}
	}
	return errors.Wrapf(ErrStateTransitionTimeout, "MARCSTATE 0x%02X not reached after %d polls", want, obj.maxStatePolls)
}

func (obj *Chip) enterIdle() error {
	if err := obj.hw.Strobe(SIDLE); err != nil {
		return errors.Wrap(err, "failed to strobe SIDLE")
	}
	if err := obj.waitMarcState(marcStateIdle); err != nil {
		obj.state = hal.StateUnknown
		return err
	}
	obj.state = hal.StateIdle
	return nil
}

func (obj *Chip) enterReceive() error {
	if err := obj.enterIdle(); err != nil {
		return err
	}
	if err := obj.hw.Strobe(SRX); err != nil {
		return errors.Wrap(err, "failed to strobe SRX")
	}
	if err := obj.waitMarcState(marcStateRX); err != nil {
		obj.state = hal.StateUnknown
		return err
	}
	obj.state = hal.StateReceiving
	return nil
}

func (obj *Chip) startSleepPolling() error {
	for _, strobe := range []byte{SFRX, SWORRST, SWOR} {
		if err := obj.hw.Strobe(strobe); err != nil {
			return errors.Wrapf(err, "failed to strobe 0x%02X", strobe)
		}
	}
	obj.sleep(settleDelay)
	obj.state = hal.StateSleepPolling
	return nil
}

func (obj *Chip) powerDown() error {
	if err := obj.enterIdle(); err != nil {
		return err
	}
	if err := obj.hw.Strobe(SPWD); err != nil {
		return errors.Wrap(err, "failed to strobe SPWD")
	}
	obj.state = hal.StatePoweredDown
	return nil
}

func (obj *Chip) readFIFO(burst *RawBurst) error {
	rxBytes, err := obj.hw.ReadRegister(RXBYTES)
	if err != nil {
		return errors.Wrap(err, "failed to read RXBYTES")
	}
	if rxBytes&rxBytesOverflow != 0 {
		return errors.Wrap(ErrNoData, "RX FIFO overflow")
	}
	count := int(rxBytes & rxBytesMask)
	if count == 0 {
		return ErrNoData
	}
	if count > RawBurstCapacity {
		return errors.Wrapf(ErrNoData, "%d bytes exceed burst capacity", count)
	}
	if err := obj.hw.ReadBurst(FIFO, burst.Data[:count]); err != nil {
		return errors.Wrap(err, "failed to read RX FIFO")
	}
	burst.Len = count
	return nil
}

func (obj *Chip) flushAndReceive() error {
	if err := obj.enterIdle(); err != nil {
		return err
	}
	if err := obj.strobeSettle(SFRX); err != nil {
		return errors.Wrap(err, "failed to flush RX FIFO")
	}
	return obj.enterReceive()
}

func (obj *Chip) recoverRX() error {
	err := obj.flushAndReceive()
	if errors.Is(err, ErrStateTransitionTimeout) {
		obj.log.WithError(err).Warn("recovery timed out, retrying once")
		err = obj.flushAndReceive()
	}
	return err
}
