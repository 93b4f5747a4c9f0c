package hal

// RegAddress is a chip register address. Configuration registers use the
// 6-bit address (0x00-0x3F); status registers are given with the burst/read
// header bits already set (0xF0-0xFD).
type RegAddress uint8

func (a RegAddress) ToByte() byte {
	return byte(a)
}

// header bits OR-ed into the first byte of every bus transaction
const (
	HeaderWriteSingle byte = 0x00
	HeaderWriteBurst  byte = 0x40
	HeaderReadSingle  byte = 0x80
	HeaderReadBurst   byte = 0xC0
)
