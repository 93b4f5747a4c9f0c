package cc1101

import (
	"testing"
)

func TestDump(t *testing.T) {
	cfg := OregonOOK433()
	if got := cfg.Modulation(); got != "ASK/OOK" {
		t.Fatalf("modulation %q", got)
	}

	lines := cfg.Dump()
	if len(lines) != 5+ConfigRegisterCount+6 {
		t.Fatalf("unexpected line count %d", len(lines))
	}
	expected := map[int]string{
		0:  "0x00: 06 2E 06 4F CC CC 29 04 00 00",
		4:  "0x28: 00 59 7F 3F 81 35 09",
		5:  "  IOCFG2   (0x00) = 0x06",
		52: "PA table: 6C 1C 06 3A 51 85 C8 C0",
		53: "modulation: ASK/OOK",
		54: "frequency: 433.920 MHz",
		56: "sync word: 0xCCCC",
		57: "packet length: 41",
	}
	for i, want := range expected {
		if lines[i] != want {
			t.Errorf("line %d: expected %q, got %q", i, want, lines[i])
		}
	}

	cfg.Registers[MDMCFG2] = 0x20
	if got := cfg.Modulation(); got != "reserved (2)" {
		t.Fatalf("modulation %q", got)
	}
}
