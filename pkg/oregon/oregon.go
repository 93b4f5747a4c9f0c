// Package oregon demodulates and decodes Oregon Scientific v2.1 THN122N/THN132N
// temperature bursts captured by a CC1101 in OOK mode.
//
// The radio syncs on the 0xCCCC preamble, so a burst carries the remaining
// preamble, the 0xA sync nibble and the Manchester coded, bit doubled payload
// in raw form. Every decoded bit takes four raw bits: 0x6 for one, 0x9 for zero.
package oregon

import "fmt"

const (
	// FrameCapacity is the number of decoded bytes kept from a burst.
	FrameCapacity = 8
	// MinFrameLen is the decoded length a frame needs to be decoded.
	MinFrameLen = 8
	// MinBurstLen is the minimum raw burst length, RSSI and LQI included.
	MinBurstLen = 32

	SensorTHN132N uint16 = 0xEC40
)

// Frame is a demodulated burst. Len counts decoded bytes and may exceed
// FrameCapacity, bytes beyond the capacity are dropped.
type Frame struct {
	Data [FrameCapacity]uint8
	Len  int
}

// Bytes returns the kept part of the frame.
func (obj Frame) Bytes() []byte {
	n := obj.Len
	if n > FrameCapacity {
		n = FrameCapacity
	}
	if n < 0 {
		n = 0
	}
	return obj.Data[:n]
}

func (obj Frame) String() string {
	return fmt.Sprintf("% X (len %d)", obj.Bytes(), obj.Len)
}

// Quality of the received signal. RSSI in dBm, higher is better. LQI 0-127,
// lower is better.
type Quality struct {
	RSSI int8
	LQI  uint8
}

func (obj Quality) String() string {
	return fmt.Sprintf("RSSI %d dBm, LQI %d", obj.RSSI, obj.LQI)
}

// Reading is a decoded THN122N/THN132N message.
type Reading struct {
	SensorID    uint16
	Channel     uint8
	RollCode    uint8
	BatteryLow  bool
	Temperature float64 // °C
	ChecksumOK  bool
}

func (obj Reading) String() string {
	batt := "ok"
	if obj.BatteryLow {
		batt = "low"
	}
	cksum := "ok"
	if !obj.ChecksumOK {
		cksum = "bad"
	}
	return fmt.Sprintf("sensor 0x%04X, channel %d, roll code 0x%02X, battery %s, %.1f C, checksum %s",
		obj.SensorID, obj.Channel, obj.RollCode, batt, obj.Temperature, cksum)
}
