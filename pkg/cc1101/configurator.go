package cc1101

import "github.com/pkg/errors"

// ConfigBuilder stages changes on top of the chip's current register image.
// Only the staged parameters change, everything else is written back as is.
type ConfigBuilder struct {
	chip   *Chip
	staged ChipConfig
	err    error
}

// NewConfigBuilder constructs ConfigBuilder
func NewConfigBuilder(chip *Chip) *ConfigBuilder {
	return &ConfigBuilder{
		chip:   chip,
		staged: chip.Config(), // copy current values
	}
}

// SyncWord sets SYNC1 and SYNC0
func (obj *ConfigBuilder) SyncWord(word uint16) *ConfigBuilder {
	obj.staged.Registers[SYNC1] = uint8(word >> 8)
	obj.staged.Registers[SYNC0] = uint8(word)
	return obj
}

// Frequency sets the carrier frequency in Hz, FREQ = f * 2^16 / f_xosc
func (obj *ConfigBuilder) Frequency(hz uint64) *ConfigBuilder {
	word := hz << 16 / CrystalFrequency
	if word > 0xFFFFFF {
		obj.err = errors.Errorf("frequency %d Hz out of range", hz)
		return obj
	}
	obj.staged.Registers[FREQ2] = uint8(word >> 16)
	obj.staged.Registers[FREQ1] = uint8(word >> 8)
	obj.staged.Registers[FREQ0] = uint8(word)
	return obj
}

// Channel sets CHANNR
func (obj *ConfigBuilder) Channel(channel uint8) *ConfigBuilder {
	obj.staged.Registers[CHANNR] = channel
	return obj
}

// PowerLevel selects the PA table index used for transmission (FREND0.PA_POWER), 0-7
func (obj *ConfigBuilder) PowerLevel(index uint8) *ConfigBuilder {
	if index >= PATableSize {
		obj.err = errors.Errorf("PA table index %d out of range", index)
		return obj
	}
	obj.staged.Registers[FREND0] = obj.staged.Registers[FREND0]&^0x07 | index
	return obj
}

// PATable replaces the output power table
func (obj *ConfigBuilder) PATable(table [PATableSize]uint8) *ConfigBuilder {
	obj.staged.PATable = table
	return obj
}

// PacketLength sets PKTLEN, the fixed packet length in bytes
func (obj *ConfigBuilder) PacketLength(length uint8) *ConfigBuilder {
	if length == 0 || int(length) > FIFOSize {
		obj.err = errors.Errorf("packet length %d out of range", length)
		return obj
	}
	obj.staged.Registers[PKTLEN] = length
	return obj
}

// Build returns the staged register image
func (obj *ConfigBuilder) Build() (ChipConfig, error) {
	return obj.staged, obj.err
}

// Write writes the staged register image to the chip
func (obj *ConfigBuilder) Write() error {
	if obj.err != nil {
		return obj.err
	}
	return obj.chip.WriteConfig(obj.staged)
}
