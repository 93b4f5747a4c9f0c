package hal

import "time"

type ChipState int

const (
	StateUnknown ChipState = iota
	StateIdle
	StateReceiving
	StateSleepPolling
	StatePoweredDown
)

func (s ChipState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateReceiving:
		return "RX"
	case StateSleepPolling:
		return "WOR"
	case StatePoweredDown:
		return "POWERDOWN"
	default:
		return "UNKNOWN"
	}
}

// HWHandler is the bus transport of a transceiver: single byte strobes,
// 2-byte register access, N+1 byte bursts, chip-select framing and the
// sync-detect signal line.
type HWHandler interface {
	Strobe(command byte) error
	ReadRegister(address RegAddress) (uint8, error)
	WriteRegister(address RegAddress, value uint8) error
	ReadBurst(address RegAddress, buf []byte) error
	WriteBurst(address RegAddress, data []byte) error
	// PulseChipSelect drives CSn low for low, then high for high.
	PulseChipSelect(low time.Duration, high time.Duration) error
	SyncAsserted() (bool, error)
	// WaitSyncReleased blocks until the sync-detect line deasserts or timeout elapses.
	WaitSyncReleased(timeout time.Duration) error
	Close() error
}
