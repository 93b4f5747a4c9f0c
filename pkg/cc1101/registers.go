package cc1101

import (
	"fmt"

	"github.com/mbalug7/go-cc1101-oregon/pkg/hal"
)

const (
	ConfigRegisterCount = 0x2F // 47 configuration registers, 0x00 - 0x2E
	PATableSize         = 8
	FIFOSize            = 64
	// RX FIFO content plus the appended RSSI and LQI status bytes
	RawBurstCapacity = FIFOSize + 2

	CrystalFrequency = 26000000 // Hz
	rssiOffset       = 74       // dBm
)

// configuration registers
const (
	IOCFG2 hal.RegAddress = iota
	IOCFG1
	IOCFG0
	FIFOTHR
	SYNC1
	SYNC0
	PKTLEN
	PKTCTRL1
	PKTCTRL0
	ADDR
	CHANNR
	FSCTRL1
	FSCTRL0
	FREQ2
	FREQ1
	FREQ0
	MDMCFG4
	MDMCFG3
	MDMCFG2
	MDMCFG1
	MDMCFG0
	DEVIATN
	MCSM2
	MCSM1
	MCSM0
	FOCCFG
	BSCFG
	AGCCTRL2
	AGCCTRL1
	AGCCTRL0
	WOREVT1
	WOREVT0
	WORCTRL
	FREND1
	FREND0
	FSCAL3
	FSCAL2
	FSCAL1
	FSCAL0
	RCCTRL1
	RCCTRL0
	FSTEST
	PTEST
	AGCTEST
	TEST2
	TEST1
	TEST0
)

// command strobes
const (
	SRES    byte = 0x30 // reset chip
	SFSTXON byte = 0x31 // enable and calibrate frequency synthesizer
	SXOFF   byte = 0x32 // turn off crystal oscillator
	SCAL    byte = 0x33 // calibrate frequency synthesizer and disable
	SRX     byte = 0x34 // enable RX
	STX     byte = 0x35 // enable TX
	SIDLE   byte = 0x36 // exit RX / TX
	SAFC    byte = 0x37 // AFC adjustment of frequency synthesizer
	SWOR    byte = 0x38 // start automatic RX polling sequence
	SPWD    byte = 0x39 // enter power down mode when CSn goes high
	SFRX    byte = 0x3A // flush the RX FIFO
	SFTX    byte = 0x3B // flush the TX FIFO
	SWORRST byte = 0x3C // reset real time clock
	SNOP    byte = 0x3D // no operation
)

// status registers, burst bit already set
const (
	PARTNUM        hal.RegAddress = 0xF0
	VERSION        hal.RegAddress = 0xF1
	FREQEST        hal.RegAddress = 0xF2
	LQI            hal.RegAddress = 0xF3
	RSSI           hal.RegAddress = 0xF4
	MARCSTATE      hal.RegAddress = 0xF5
	WORTIME1       hal.RegAddress = 0xF6
	WORTIME0       hal.RegAddress = 0xF7
	PKTSTATUS      hal.RegAddress = 0xF8
	VCO_VC_DAC     hal.RegAddress = 0xF9
	TXBYTES        hal.RegAddress = 0xFA
	RXBYTES        hal.RegAddress = 0xFB
	RCCTRL1_STATUS hal.RegAddress = 0xFC
	RCCTRL0_STATUS hal.RegAddress = 0xFD
)

// multi byte access points, header bits are added by the transport
const (
	PATABLE hal.RegAddress = 0x3E
	FIFO    hal.RegAddress = 0x3F // TX FIFO on write, RX FIFO on read
)

// MARCSTATE values, low 5 bits
const (
	marcStateMask uint8 = 0x1F
	marcStateIdle uint8 = 0x01
	marcStateRX   uint8 = 0x0D
)

const (
	rxBytesOverflow uint8 = 0x80
	rxBytesMask     uint8 = 0x7F
)

var registerNames = [ConfigRegisterCount]string{
	"IOCFG2", "IOCFG1", "IOCFG0", "FIFOTHR", "SYNC1", "SYNC0", "PKTLEN",
	"PKTCTRL1", "PKTCTRL0", "ADDR", "CHANNR", "FSCTRL1", "FSCTRL0", "FREQ2",
	"FREQ1", "FREQ0", "MDMCFG4", "MDMCFG3", "MDMCFG2", "MDMCFG1", "MDMCFG0",
	"DEVIATN", "MCSM2", "MCSM1", "MCSM0", "FOCCFG", "BSCFG", "AGCCTRL2",
	"AGCCTRL1", "AGCCTRL0", "WOREVT1", "WOREVT0", "WORCTRL", "FREND1", "FREND0",
	"FSCAL3", "FSCAL2", "FSCAL1", "FSCAL0", "RCCTRL1", "RCCTRL0", "FSTEST",
	"PTEST", "AGCTEST", "TEST2", "TEST1", "TEST0",
}

// RegisterName returns the datasheet name of a configuration register.
func RegisterName(address hal.RegAddress) string {
	if int(address) < len(registerNames) {
		return registerNames[address]
	}
	return fmt.Sprintf("0x%02X", address.ToByte())
}

// ChipConfig is the full register image written on Configure.
// Registers is indexed by configuration register address.
type ChipConfig struct {
	Registers [ConfigRegisterCount]uint8
	PATable   [PATableSize]uint8
}

// OregonOOK433 returns the ASK/OOK profile for Oregon Scientific v2.1 sensors
// at 433.92 MHz: sync word 0xCCCC, fixed packet length 41, no hardware
// Manchester, GDO2 asserted from sync word until end of packet.
func OregonOOK433() ChipConfig {
	return ChipConfig{
		Registers: [ConfigRegisterCount]uint8{
			0x06, // IOCFG2
			0x2E, // IOCFG1
			0x06, // IOCFG0
			0x4F, // FIFOTHR
			0xCC, // SYNC1
			0xCC, // SYNC0
			0x29, // PKTLEN
			0x04, // PKTCTRL1
			0x00, // PKTCTRL0
			0x00, // ADDR
			0x00, // CHANNR
			0x06, // FSCTRL1
			0x00, // FSCTRL0
			0x10, // FREQ2
			0xB0, // FREQ1
			0x71, // FREQ0
			0xC6, // MDMCFG4
			0x4A, // MDMCFG3
			0x37, // MDMCFG2
			0x22, // MDMCFG1
			0xF8, // MDMCFG0
			0x15, // DEVIATN
			0x07, // MCSM2
			0x30, // MCSM1
			0x18, // MCSM0
			0x16, // FOCCFG
			0x6C, // BSCFG
			0x07, // AGCCTRL2
			0x00, // AGCCTRL1
			0x91, // AGCCTRL0
			0x87, // WOREVT1
			0x6B, // WOREVT0
			0xFB, // WORCTRL
			0x56, // FREND1
			0x11, // FREND0
			0xE9, // FSCAL3
			0x2A, // FSCAL2
			0x00, // FSCAL1
			0x1F, // FSCAL0
			0x41, // RCCTRL1
			0x00, // RCCTRL0
			0x59, // FSTEST
			0x7F, // PTEST
			0x3F, // AGCTEST
			0x81, // TEST2
			0x35, // TEST1
			0x09, // TEST0
		},
		// -30 -20 -15 -10 0 5 7 10 dBm
		PATable: [PATableSize]uint8{0x6C, 0x1C, 0x06, 0x3A, 0x51, 0x85, 0xC8, 0xC0},
	}
}

// Register returns the staged value of a configuration register.
func (obj ChipConfig) Register(address hal.RegAddress) uint8 {
	return obj.Registers[address]
}

// SyncWord returns SYNC1:SYNC0.
func (obj ChipConfig) SyncWord() uint16 {
	return uint16(obj.Registers[SYNC1])<<8 | uint16(obj.Registers[SYNC0])
}

// FrequencyWord returns the 24 bit FREQ2:FREQ1:FREQ0 control word.
func (obj ChipConfig) FrequencyWord() uint32 {
	return uint32(obj.Registers[FREQ2])<<16 | uint32(obj.Registers[FREQ1])<<8 | uint32(obj.Registers[FREQ0])
}

// Frequency returns the carrier frequency in Hz.
func (obj ChipConfig) Frequency() float64 {
	return float64(obj.FrequencyWord()) * CrystalFrequency / (1 << 16)
}

// Channel returns CHANNR.
func (obj ChipConfig) Channel() uint8 {
	return obj.Registers[CHANNR]
}

// PacketLength returns PKTLEN.
func (obj ChipConfig) PacketLength() uint8 {
	return obj.Registers[PKTLEN]
}

// RawBurst is one RX FIFO read, payload followed by RSSI and LQI.
type RawBurst struct {
	Data [RawBurstCapacity]uint8
	Len  int
}

// Bytes returns the valid part of the burst.
func (obj *RawBurst) Bytes() []byte {
	return obj.Data[:obj.Len]
}

// Identity holds the chip identification registers read on Configure.
type Identity struct {
	PartNum uint8
	Version uint8
}

func (obj Identity) String() string {
	return fmt.Sprintf("partnum 0x%02X, version 0x%02X", obj.PartNum, obj.Version)
}

// ConvertRSSI converts the raw RSSI status byte to dBm.
func ConvertRSSI(raw uint8) int8 {
	dec := int16(raw)
	if dec >= 128 {
		return int8((dec-256)/2 - rssiOffset)
	}
	return int8(dec/2 - rssiOffset)
}

// ConvertLQI strips the CRC_OK bit from the raw LQI status byte.
func ConvertLQI(raw uint8) uint8 {
	return raw & 0x7F
}
