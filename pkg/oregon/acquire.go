package oregon

import (
	"io"

	"github.com/mbalug7/go-cc1101-oregon/pkg/cc1101"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// sync markers: the first byte of the burst holding the start of the 0xA
// sync nibble, and the bit offset at which the nibble's symbols start
var syncMarkers = map[uint8]uint{
	0xD2: 3,
	0xCD: 7,
}

const syncSearchLen = 5

// BurstReader is the part of the driver the acquirer needs.
type BurstReader interface {
	ReadBurst() (cc1101.RawBurst, error)
}

type AcquirerOption func(*Acquirer)

func WithLogger(log logrus.FieldLogger) AcquirerOption {
	return func(obj *Acquirer) {
		obj.log = log
	}
}

// Acquirer reads one burst from the driver and demodulates it.
type Acquirer struct {
	reader BurstReader
	log    logrus.FieldLogger
}

func NewAcquirer(reader BurstReader, opts ...AcquirerOption) *Acquirer {
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	acq := &Acquirer{
		reader: reader,
		log:    discard,
	}
	for _, opt := range opts {
		opt(acq)
	}
	return acq
}

// Acquire reads the RX FIFO and turns its content into a frame.
func (obj *Acquirer) Acquire() (Frame, Quality, error) {
	raw, err := obj.reader.ReadBurst()
	if err != nil {
		return Frame{}, Quality{}, err
	}
	frame, quality, err := ParseBurst(raw)
	if err != nil {
		obj.log.WithError(err).WithField("len", raw.Len).Debug("burst rejected")
		return frame, quality, err
	}
	obj.log.WithFields(logrus.Fields{
		"frame":   frame,
		"quality": quality,
	}).Debug("burst demodulated")
	return frame, quality, nil
}

// ParseBurst extracts the signal quality trailer, locates the sync nibble and
// demodulates the burst. The quality is valid whenever the burst is long enough.
func ParseBurst(raw cc1101.RawBurst) (Frame, Quality, error) {
	if raw.Len < MinBurstLen {
		return Frame{}, Quality{}, errors.Wrapf(ErrTooShort, "%d bytes", raw.Len)
	}
	if raw.Len > len(raw.Data) {
		return Frame{}, Quality{}, errors.Wrapf(ErrTooShort, "invalid length %d", raw.Len)
	}
	quality := Quality{
		RSSI: cc1101.ConvertRSSI(raw.Data[raw.Len-2]),
		LQI:  cc1101.ConvertLQI(raw.Data[raw.Len-1]),
	}
	payload := raw.Data[:raw.Len-2]

	for pos := 0; pos < syncSearchLen; pos++ {
		if offset, ok := syncMarkers[payload[pos]]; ok {
			frame, err := demodulate(payload[pos:], offset)
			return frame, quality, err
		}
	}
	return Frame{}, quality, ErrSyncNotFound
}

func validSymbol(symbol uint8) bool {
	switch symbol {
	case 0x99, 0x96, 0x69, 0x66:
		return true
	}
	return false
}

// demodulate realigns the raw bytes to the symbol boundary, checks every
// symbol, drops the sync nibble and folds four symbols into one byte.
func demodulate(raw []byte, offset uint) (Frame, error) {
	symbols := make([]uint8, len(raw)-1)
	for i := range symbols {
		window := uint16(raw[i])<<8 | uint16(raw[i+1])
		symbols[i] = uint8(window >> (8 - offset))
		if !validSymbol(symbols[i]) {
			return Frame{}, errors.Wrapf(ErrBitError, "symbol 0x%02X at %d", symbols[i], i)
		}
	}
	if symbols[0] != 0x96 || symbols[1] != 0x96 {
		return Frame{}, ErrSyncNibbleMissing
	}
	symbols = symbols[2:]

	var frame Frame
	frame.Len = (len(raw) - 3) / 4
	for i := 0; i < frame.Len && i < FrameCapacity; i++ {
		s := symbols[i*4 : i*4+4]
		// Manchester and bit doubling decoded together, nibbles come LSB first
		// from a word with the symbol pairs swapped
		window := uint32(s[0])<<8 | uint32(s[1]) | uint32(s[2])<<24 | uint32(s[3])<<16
		var out uint8
		for j := 0; j < 8; j++ {
			out <<= 1
			if window&0xF == 0x6 {
				out |= 1
			}
			window >>= 4
		}
		frame.Data[i] = out
	}
	return frame, nil
}
