package cc1101

import "github.com/pkg/errors"

var (
	// ErrDeviceNotFound is returned by Configure when the VERSION register reads 0x00 or 0xFF.
	ErrDeviceNotFound = errors.New("no CC1101 found")
	// ErrStateTransitionTimeout is returned when MARCSTATE does not reach the requested state.
	ErrStateTransitionTimeout = errors.New("chip state transition timeout")
	// ErrNoData is returned by ReadBurst on an empty or overflowed RX FIFO.
	ErrNoData = errors.New("no data in RX FIFO")
	// ErrPayloadTooLong is returned by WriteTxBurst when the frame does not fit the TX FIFO.
	ErrPayloadTooLong = errors.New("payload does not fit the TX FIFO")
)
