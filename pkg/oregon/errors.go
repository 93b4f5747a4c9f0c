package oregon

import (
	"github.com/mbalug7/go-cc1101-oregon/pkg/cc1101"
	"github.com/pkg/errors"
)

var (
	// ErrNoData is the driver's empty or overflowed FIFO error.
	ErrNoData = cc1101.ErrNoData
	// ErrTooShort is returned for bursts under MinBurstLen bytes.
	ErrTooShort = errors.New("burst too short")
	// ErrSyncNotFound is returned when no sync marker is found in the first bytes.
	ErrSyncNotFound = errors.New("start of Oregon sync nibble not found")
	// ErrBitError is returned for a symbol that is not a valid double bit pair.
	ErrBitError = errors.New("Oregon packet bit error")
	// ErrSyncNibbleMissing is returned when the first two symbols are not the 0xA sync nibble.
	ErrSyncNibbleMissing = errors.New("Oregon sync nibble (0xA) not found")
	// ErrUnknownSensorFamily is returned by Decode for any id other than 0xEC40.
	ErrUnknownSensorFamily = errors.New("Oregon id 0xEC40 not found")
)
