package cc1101

import (
	"fmt"
	"strings"

	"github.com/mbalug7/go-cc1101-oregon/pkg/hal"
)

const dumpColumns = 10

var modulationNames = map[uint8]string{
	0: "2-FSK",
	1: "GFSK",
	3: "ASK/OOK",
	4: "4-FSK",
	7: "MSK",
}

// Modulation returns the MOD_FORMAT name from MDMCFG2.
func (obj ChipConfig) Modulation() string {
	format := (obj.Registers[MDMCFG2] >> 4) & 0x07
	if name, ok := modulationNames[format]; ok {
		return name
	}
	return fmt.Sprintf("reserved (%d)", format)
}

// Dump formats the register image for humans: the configuration registers
// ten per line, their names, the PA table and the main settings.
func (obj ChipConfig) Dump() []string {
	var lines []string
	for start := 0; start < ConfigRegisterCount; start += dumpColumns {
		end := min(start+dumpColumns, ConfigRegisterCount)
		values := make([]string, 0, dumpColumns)
		for _, v := range obj.Registers[start:end] {
			values = append(values, fmt.Sprintf("%02X", v))
		}
		lines = append(lines, fmt.Sprintf("0x%02X: %s", start, strings.Join(values, " ")))
	}
	for addr := 0; addr < ConfigRegisterCount; addr++ {
		lines = append(lines, fmt.Sprintf("  %-8s (0x%02X) = 0x%02X",
			RegisterName(hal.RegAddress(addr)), addr, obj.Registers[addr]))
	}
	pa := make([]string, 0, PATableSize)
	for _, v := range obj.PATable {
		pa = append(pa, fmt.Sprintf("%02X", v))
	}
	lines = append(lines,
		fmt.Sprintf("PA table: %s", strings.Join(pa, " ")),
		fmt.Sprintf("modulation: %s", obj.Modulation()),
		fmt.Sprintf("frequency: %.3f MHz", obj.Frequency()/1e6),
		fmt.Sprintf("channel: %d", obj.Channel()),
		fmt.Sprintf("sync word: 0x%04X", obj.SyncWord()),
		fmt.Sprintf("packet length: %d", obj.PacketLength()),
	)
	return lines
}
