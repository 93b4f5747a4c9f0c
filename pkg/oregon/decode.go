package oregon

import "github.com/pkg/errors"

// Decode interprets a THN122N/THN132N frame. A checksum mismatch is not an
// error, it is reported in Reading.ChecksumOK.
func Decode(frame Frame) (Reading, error) {
	data := frame.Data
	id := uint16(data[0])<<8 | uint16(data[1])
	if id != SensorTHN132N {
		return Reading{}, errors.Wrapf(ErrUnknownSensorFamily, "got 0x%04X", id)
	}

	reading := Reading{
		SensorID:    id,
		Channel:     channel(data[2]),
		RollCode:    lowNibble(data[2])<<4 | highNibble(data[3]),
		BatteryLow:  data[3]&0x4 != 0,
		Temperature: temperature(data[4], data[5]),
		ChecksumOK:  Checksum(data[:6]) == data[6],
	}
	return reading, nil
}

// Checksum sums the nibbles of data, folds the carry into the low byte and
// swaps the nibbles of the result.
func Checksum(data []byte) uint8 {
	var sum uint16
	for _, b := range data {
		sum += uint16(lowNibble(b)) + uint16(highNibble(b))
	}
	sum = (sum&0xFF + sum>>8) & 0xFF
	return uint8(sum>>4 | sum<<4&0xF0)
}

// three BCD digits, tens in the high nibble of b5, sign in its low nibble
func temperature(b4 uint8, b5 uint8) float64 {
	t := float64(highNibble(b5))*10 + float64(lowNibble(b4)) + float64(highNibble(b4))*0.1
	if lowNibble(b5) != 0 {
		t = -t
	}
	return t
}

// the channel nibble has one bit set, 1 << (channel - 1)
func channel(b2 uint8) uint8 {
	chn := highNibble(b2)
	var i uint8
	for i = 1; i < 5; i++ {
		chn >>= 1
		if chn == 0 {
			break
		}
	}
	return i
}

func lowNibble(b uint8) uint8 {
	return b & 0xF
}

func highNibble(b uint8) uint8 {
	return b >> 4
}
