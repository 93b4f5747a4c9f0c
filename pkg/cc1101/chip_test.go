package cc1101

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/mbalug7/go-cc1101-oregon/pkg/hal"
)

// fakeRadio simulates the register file, FIFOs and state machine of a CC1101.
type fakeRadio struct {
	regs     [ConfigRegisterCount]uint8
	pa       [PATableSize]uint8
	marc     uint8
	partNum  uint8
	version  uint8
	rxFIFO   []byte
	overflow bool
	txFIFO   []byte
	sync     bool

	stuckIdle     int // SIDLE strobes that leave MARCSTATE unchanged
	strobes       []byte
	pulses        int
	syncWaits     int
	syncWaitError error
	closed        bool
}

func newFakeRadio() *fakeRadio {
	return &fakeRadio{version: 0x14, marc: 0x00}
}

func (obj *fakeRadio) Strobe(command byte) error {
	obj.strobes = append(obj.strobes, command)
	switch command {
	case SRES:
		obj.regs = [ConfigRegisterCount]uint8{}
		obj.marc = marcStateIdle
	case SIDLE:
		if obj.stuckIdle > 0 {
			obj.stuckIdle--
			return nil
		}
		obj.marc = marcStateIdle
	case SRX:
		if obj.marc == marcStateIdle {
			obj.marc = marcStateRX
		}
	case SFRX:
		obj.rxFIFO = nil
		obj.overflow = false
	case SFTX:
		obj.txFIFO = nil
	case SPWD:
		obj.marc = 0x00
	case SWOR:
		obj.marc = 0x00
	}
	return nil
}

func (obj *fakeRadio) ReadRegister(address hal.RegAddress) (uint8, error) {
	switch address {
	case PARTNUM:
		return obj.partNum, nil
	case VERSION:
		return obj.version, nil
	case MARCSTATE:
		// upper bits are undefined on the real chip
		return 0xE0 | obj.marc, nil
	case RXBYTES:
		n := uint8(len(obj.rxFIFO))
		if obj.overflow {
			n |= rxBytesOverflow
		}
		return n, nil
	}
	if int(address) < ConfigRegisterCount {
		return obj.regs[address], nil
	}
	return 0, nil
}

func (obj *fakeRadio) WriteRegister(address hal.RegAddress, value uint8) error {
	if int(address) < ConfigRegisterCount {
		obj.regs[address] = value
	}
	return nil
}

func (obj *fakeRadio) ReadBurst(address hal.RegAddress, buf []byte) error {
	switch address {
	case IOCFG2:
		copy(buf, obj.regs[:])
	case PATABLE:
		copy(buf, obj.pa[:])
	case FIFO:
		n := copy(buf, obj.rxFIFO)
		obj.rxFIFO = obj.rxFIFO[n:]
	}
	return nil
}

func (obj *fakeRadio) WriteBurst(address hal.RegAddress, data []byte) error {
	switch address {
	case IOCFG2:
		copy(obj.regs[:], data)
	case PATABLE:
		copy(obj.pa[:], data)
	case FIFO:
		obj.txFIFO = append(obj.txFIFO, data...)
	}
	return nil
}

func (obj *fakeRadio) PulseChipSelect(low time.Duration, high time.Duration) error {
	obj.pulses++
	return nil
}

func (obj *fakeRadio) SyncAsserted() (bool, error) {
	return obj.sync, nil
}

func (obj *fakeRadio) WaitSyncReleased(timeout time.Duration) error {
	obj.syncWaits++
	if obj.syncWaitError != nil {
		return obj.syncWaitError
	}
	obj.sync = false
	return nil
}

func (obj *fakeRadio) Close() error {
	obj.closed = true
	return nil
}

func (obj *fakeRadio) receive(data []byte) {
	obj.rxFIFO = append([]byte(nil), data...)
	obj.sync = true
}

func noSleep(time.Duration) {}

func newTestChip(t *testing.T, radio *fakeRadio) *Chip {
	t.Helper()
	chip := NewChip(radio, WithSleep(noSleep), WithMaxStatePolls(5))
	if err := chip.Configure(OregonOOK433()); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	return chip
}

func TestConfigureRoundTrip(t *testing.T) {
	radio := newFakeRadio()
	chip := newTestChip(t, radio)

	cfg, err := chip.ReadConfig()
	if err != nil {
		t.Fatalf("ReadConfig: %v", err)
	}
	want := OregonOOK433()
	if cfg != want {
		t.Errorf("read back config differs:\n got %X\nwant %X", cfg.Registers, want.Registers)
	}
	if chip.State() != hal.StateReceiving {
		t.Errorf("state = %s, want %s", chip.State(), hal.StateReceiving)
	}
	if radio.pulses != 1 {
		t.Errorf("CSn pulses = %d, want 1", radio.pulses)
	}
	wantStart := []byte{SRES, SFTX, SFRX}
	if !bytes.Equal(radio.strobes[:3], wantStart) {
		t.Errorf("first strobes = % X, want % X", radio.strobes[:3], wantStart)
	}
	if id := chip.Identity(); id.Version != 0x14 || id.PartNum != 0x00 {
		t.Errorf("identity = %s", id)
	}
}

func TestConfigureDeviceNotFound(t *testing.T) {
	for _, version := range []uint8{0x00, 0xFF} {
		radio := newFakeRadio()
		radio.version = version
		chip := NewChip(radio, WithSleep(noSleep))
		err := chip.Configure(OregonOOK433())
		if !errors.Is(err, ErrDeviceNotFound) {
			t.Errorf("version 0x%02X: err = %v, want ErrDeviceNotFound", version, err)
		}
		if radio.regs != [ConfigRegisterCount]uint8{} {
			t.Errorf("version 0x%02X: registers written to a missing chip", version)
		}
	}
}

func TestStateTransitionTimeout(t *testing.T) {
	radio := newFakeRadio()
	chip := newTestChip(t, radio)

	radio.marc = marcStateRX
	radio.stuckIdle = 1
	err := chip.EnterIdle()
	if !errors.Is(err, ErrStateTransitionTimeout) {
		t.Fatalf("err = %v, want ErrStateTransitionTimeout", err)
	}
	if chip.State() != hal.StateUnknown {
		t.Errorf("state = %s, want %s", chip.State(), hal.StateUnknown)
	}
	if err := chip.EnterIdle(); err != nil {
		t.Errorf("second EnterIdle: %v", err)
	}
}

func TestReadBurst(t *testing.T) {
	payload := make([]byte, 43)
	for i := range payload {
		payload[i] = uint8(i)
	}
	tests := []struct {
		name     string
		fifo     []byte
		overflow bool
		wantErr  error
		wantLen  int
	}{
		{name: "queued bytes", fifo: payload, wantLen: len(payload)},
		{name: "empty", wantErr: ErrNoData},
		{name: "overflow", fifo: payload, overflow: true, wantErr: ErrNoData},
		{name: "above capacity", fifo: make([]byte, RawBurstCapacity+1), wantErr: ErrNoData},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			radio := newFakeRadio()
			chip := newTestChip(t, radio)
			radio.rxFIFO = test.fifo
			radio.overflow = test.overflow

			burst, err := chip.ReadBurst()
			if !errors.Is(err, test.wantErr) {
				t.Fatalf("err = %v, want %v", err, test.wantErr)
			}
			if burst.Len != test.wantLen {
				t.Errorf("len = %d, want %d", burst.Len, test.wantLen)
			}
			if test.wantErr == nil && !bytes.Equal(burst.Bytes(), payload) {
				t.Errorf("data = % X", burst.Bytes())
			}
			if len(radio.rxFIFO) != 0 || radio.overflow {
				t.Error("RX FIFO not flushed")
			}
			if chip.State() != hal.StateReceiving {
				t.Errorf("state = %s, want %s", chip.State(), hal.StateReceiving)
			}
		})
	}
}

func TestReadBurstRecoveryRetry(t *testing.T) {
	radio := newFakeRadio()
	chip := newTestChip(t, radio)
	radio.receive([]byte{1, 2, 3})

	radio.marc = marcStateRX
	radio.stuckIdle = 1
	burst, err := chip.ReadBurst()
	if err != nil {
		t.Fatalf("ReadBurst with one failed recovery: %v", err)
	}
	if burst.Len != 3 {
		t.Errorf("len = %d, want 3", burst.Len)
	}

	radio.receive([]byte{1, 2, 3})
	radio.marc = marcStateRX
	radio.stuckIdle = 2
	if _, err := chip.ReadBurst(); !errors.Is(err, ErrStateTransitionTimeout) {
		t.Errorf("err = %v, want ErrStateTransitionTimeout", err)
	}
}

func TestBurstPendingThenReadBurst(t *testing.T) {
	radio := newFakeRadio()
	chip := newTestChip(t, radio)

	pending, err := chip.BurstPending()
	if err != nil || pending {
		t.Fatalf("idle line: pending = %v, err = %v", pending, err)
	}

	radio.receive(bytes.Repeat([]byte{0x99}, 43))
	pending, err = chip.BurstPending()
	if err != nil || !pending {
		t.Fatalf("asserted line: pending = %v, err = %v", pending, err)
	}
	if radio.syncWaits != 1 {
		t.Errorf("sync waits = %d, want 1", radio.syncWaits)
	}
	if _, err := chip.ReadBurst(); err != nil {
		t.Errorf("ReadBurst after BurstPending: %v", err)
	}
}

func TestBurstPendingStuckLine(t *testing.T) {
	radio := newFakeRadio()
	chip := newTestChip(t, radio)
	radio.receive([]byte{1})
	radio.syncWaitError = errors.New("timeout")

	pending, err := chip.BurstPending()
	if err != nil || !pending {
		t.Errorf("pending = %v, err = %v", pending, err)
	}
}

func TestSleepPolling(t *testing.T) {
	radio := newFakeRadio()
	chip := newTestChip(t, radio)

	if err := chip.EnableSleepPolling(); err != nil {
		t.Fatalf("EnableSleepPolling: %v", err)
	}
	wantRegs := map[hal.RegAddress]uint8{MCSM0: 0x18, MCSM2: 0x01, WOREVT1: 0xFF, WOREVT0: 0x7F, WORCTRL: 0x78}
	for reg, value := range wantRegs {
		if radio.regs[reg] != value {
			t.Errorf("%s = 0x%02X, want 0x%02X", RegisterName(reg), radio.regs[reg], value)
		}
	}
	tail := radio.strobes[len(radio.strobes)-3:]
	if !bytes.Equal(tail, []byte{SFRX, SWORRST, SWOR}) {
		t.Errorf("last strobes = % X", tail)
	}
	if chip.State() != hal.StateSleepPolling {
		t.Errorf("state = %s", chip.State())
	}

	if err := chip.ResetSleepTimer(); err != nil {
		t.Fatalf("ResetSleepTimer: %v", err)
	}
	if err := chip.DisableSleepPolling(); err != nil {
		t.Fatalf("DisableSleepPolling: %v", err)
	}
	if radio.regs[MCSM2] != 0x07 {
		t.Errorf("MCSM2 = 0x%02X, want 0x07", radio.regs[MCSM2])
	}
	if chip.State() != hal.StateIdle {
		t.Errorf("state = %s", chip.State())
	}
}

func TestPowerDownWakeUp(t *testing.T) {
	radio := newFakeRadio()
	chip := newTestChip(t, radio)

	if err := chip.PowerDown(); err != nil {
		t.Fatalf("PowerDown: %v", err)
	}
	if chip.State() != hal.StatePoweredDown || radio.strobes[len(radio.strobes)-1] != SPWD {
		t.Errorf("state = %s, last strobe 0x%02X", chip.State(), radio.strobes[len(radio.strobes)-1])
	}
	if err := chip.WakeUp(); err != nil {
		t.Fatalf("WakeUp: %v", err)
	}
	if chip.State() != hal.StateReceiving {
		t.Errorf("state = %s", chip.State())
	}
	if err := chip.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !radio.closed || chip.State() != hal.StatePoweredDown {
		t.Error("Close did not power down and release the transport")
	}
}

func TestWriteTxBurst(t *testing.T) {
	radio := newFakeRadio()
	chip := newTestChip(t, radio)

	if err := chip.WriteTxBurst(0x01, 0x02, []byte{0xAA, 0xBB}); err != nil {
		t.Fatalf("WriteTxBurst: %v", err)
	}
	want := []byte{0x04, 0x02, 0x01, 0xAA, 0xBB}
	if !bytes.Equal(radio.txFIFO, want) {
		t.Errorf("TX FIFO = % X, want % X", radio.txFIFO, want)
	}
	if err := chip.WriteTxBurst(0, 0, make([]byte, FIFOSize)); !errors.Is(err, ErrPayloadTooLong) {
		t.Errorf("err = %v, want ErrPayloadTooLong", err)
	}
}

func TestConfigBuilder(t *testing.T) {
	radio := newFakeRadio()
	chip := newTestChip(t, radio)

	err := NewConfigBuilder(chip).
		SyncWord(0xD391).
		Frequency(868300000).
		PowerLevel(4).
		PacketLength(20).
		Write()
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	cfg := chip.Config()
	if cfg.SyncWord() != 0xD391 {
		t.Errorf("sync word = 0x%04X", cfg.SyncWord())
	}
	if radio.regs[SYNC1] != 0xD3 || radio.regs[SYNC0] != 0x91 {
		t.Errorf("sync registers not written")
	}
	if cfg.FrequencyWord() != 0x21656A {
		t.Errorf("frequency word = 0x%06X", cfg.FrequencyWord())
	}
	if cfg.Registers[FREND0] != 0x14 {
		t.Errorf("FREND0 = 0x%02X, want 0x14", cfg.Registers[FREND0])
	}
	if cfg.PacketLength() != 20 {
		t.Errorf("PKTLEN = %d", cfg.PacketLength())
	}
	if cfg.Registers[MDMCFG2] != OregonOOK433().Registers[MDMCFG2] {
		t.Error("unstaged register changed")
	}
	if chip.State() != hal.StateReceiving {
		t.Errorf("state = %s", chip.State())
	}

	if _, err := NewConfigBuilder(chip).PowerLevel(8).Build(); err == nil {
		t.Error("PowerLevel(8) accepted")
	}
}

func TestOregonProfile(t *testing.T) {
	cfg := OregonOOK433()
	if cfg.SyncWord() != 0xCCCC {
		t.Errorf("sync word = 0x%04X", cfg.SyncWord())
	}
	if f := cfg.Frequency(); f < 433.91e6 || f > 433.93e6 {
		t.Errorf("frequency = %f", f)
	}
	if RegisterName(TEST0) != "TEST0" || RegisterName(MCSM2) != "MCSM2" {
		t.Error("register names out of order")
	}
}

func TestConvert(t *testing.T) {
	tests := []struct {
		raw  uint8
		want int8
	}{
		{0x00, -74},
		{0x40, -42},
		{0x7F, -11},
		{0xC0, -106},
		{0xFF, -74},
	}
	for _, test := range tests {
		if got := ConvertRSSI(test.raw); got != test.want {
			t.Errorf("ConvertRSSI(0x%02X) = %d, want %d", test.raw, got, test.want)
		}
	}
	if ConvertLQI(0xAA) != 0x2A {
		t.Errorf("ConvertLQI(0xAA) = 0x%02X", ConvertLQI(0xAA))
	}
}
