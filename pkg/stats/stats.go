// Package stats keeps the running reception statistics of the receiver.
package stats

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// ErrorFlags marks the failure classes of one resolved burst pair.
type ErrorFlags uint16

const (
	FlagBurst1        ErrorFlags = 1 << iota // first burst of the pair not acquired
	FlagBurst2                               // second burst of the pair not acquired
	FlagMultiBurst                           // third or later burst inside the pairing window
	FlagLength                               // decoded frame too short
	FlagBufferMismatch                       // both bursts acquired with differing content
	FlagChecksum                             // decoded with a checksum mismatch
	FlagUnknownFamily                        // decoded an id other than THN122N/THN132N
)

var flagNames = []struct {
	flag ErrorFlags
	name string
}{
	{FlagBurst1, "brst1"},
	{FlagBurst2, "brst2"},
	{FlagMultiBurst, "mbrst"},
	{FlagLength, "pktlen"},
	{FlagBufferMismatch, "bfmatch"},
	{FlagChecksum, "chksum"},
	{FlagUnknownFamily, "family"},
}

func (f ErrorFlags) Has(flag ErrorFlags) bool {
	return f&flag != 0
}

func (f ErrorFlags) String() string {
	if f == 0 {
		return "none"
	}
	var names []string
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			names = append(names, fn.name)
		}
	}
	return strings.Join(names, "|")
}

// ResetMask selects which statistics Reset clears.
type ResetMask uint8

const (
	ResetErrors    ResetMask = 1 << iota // error counters, implies ResetRSSI and ResetLQI
	ResetInterval                        // min/max interval between accepted readings
	ResetRSSI                            // min/max RSSI
	ResetLQI                             // min/max LQI
	ResetTempDelta                       // max temperature variation
	ResetAll       ResetMask = 0xFF      // everything, total reads and sums included
)

// ParseResetMask parses a mask in binary digits, LSB last. An empty string is ResetAll.
func ParseResetMask(s string) (ResetMask, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ResetAll, nil
	}
	v, err := strconv.ParseUint(s, 2, 8)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid reset mask %q", s)
	}
	return ResetMask(v), nil
}

func (m ResetMask) String() string {
	return fmt.Sprintf("%08b", uint8(m))
}

const (
	intervalMinInit = 0xFFFF
	rssiMinInit     = 127
	rssiMaxInit     = -128
	lqiMinInit      = 127
	lqiMaxInit      = 0
)

// Stats is a snapshot of the counters.
type Stats struct {
	TotalReads uint64
	GoodReads  uint64

	Burst1Errors         uint32
	Burst2Errors         uint32
	MultiBurstErrors     uint32
	LengthErrors         uint32
	BufferMismatchErrors uint32
	ChecksumErrors       uint32
	UnknownFamilyErrors  uint32

	MinInterval uint32 // s, 0xFFFF until two readings were accepted
	MaxInterval uint32 // s

	MaxTempDelta    float64 // °C between consecutive accepted readings
	LastTemperature float64

	RSSISum int64
	LQISum  uint64
	RSSIMin int8
	RSSIMax int8
	LQIMin  uint8
	LQIMax  uint8
}

// BadReads returns total minus good reads.
func (obj Stats) BadReads() uint64 {
	if obj.GoodReads > obj.TotalReads {
		return 0
	}
	return obj.TotalReads - obj.GoodReads
}

// AverageRSSI returns the mean pair RSSI of accepted readings.
func (obj Stats) AverageRSSI() int64 {
	if obj.GoodReads == 0 {
		return 0
	}
	return obj.RSSISum / int64(obj.GoodReads)
}

// AverageLQI returns the mean pair LQI of accepted readings.
func (obj Stats) AverageLQI() uint64 {
	if obj.GoodReads == 0 {
		return 0
	}
	return obj.LQISum / obj.GoodReads
}

// IntervalsValid reports whether interval and temperature delta extrema hold data.
func (obj Stats) IntervalsValid() bool {
	return obj.GoodReads > 1
}

func (obj Stats) RSSIValid() bool {
	return obj.GoodReads > 0 && obj.RSSIMax >= obj.RSSIMin
}

func (obj Stats) LQIValid() bool {
	return obj.GoodReads > 0 && obj.LQIMax >= obj.LQIMin
}

// Lines formats the statistics for logs.
func (obj Stats) Lines() []string {
	lines := []string{
		fmt.Sprintf("bad/total received Oregon packets: %d / %d", obj.BadReads(), obj.TotalReads),
		fmt.Sprintf("errors brst1 / brst2 / mburst: %d / %d / %d", obj.Burst1Errors, obj.Burst2Errors, obj.MultiBurstErrors),
		fmt.Sprintf("errors pktlen / bfmatch / chksum / family: %d / %d / %d / %d",
			obj.LengthErrors, obj.BufferMismatchErrors, obj.ChecksumErrors, obj.UnknownFamilyErrors),
	}
	if obj.IntervalsValid() {
		lines = append(lines,
			fmt.Sprintf("min/max time between good packets [s]: %d / %d", obj.MinInterval, obj.MaxInterval),
			fmt.Sprintf("max T variation between updates [degC]: %.1f", obj.MaxTempDelta))
	}
	if obj.RSSIValid() {
		lines = append(lines, fmt.Sprintf("min/average/max RSSI [dBm]: %d / %d / %d", obj.RSSIMin, obj.AverageRSSI(), obj.RSSIMax))
	}
	if obj.LQIValid() {
		lines = append(lines, fmt.Sprintf("max/average/min LQI: %d / %d / %d", obj.LQIMax, obj.AverageLQI(), obj.LQIMin))
	}
	return lines
}

// Cycle is the result of one resolved burst, fed to Record.
type Cycle struct {
	Accepted    bool
	Flags       ErrorFlags
	IntervalMs  uint32 // since the previous accepted reading
	Temperature float64
	RSSI        [2]int8  // per burst, equal when only one burst was acquired
	LQI         [2]uint8 // per burst
}

// Aggregator accumulates Cycles. One writer, any number of concurrent readers.
type Aggregator struct {
	mu sync.RWMutex
	s  Stats
}

func NewAggregator() *Aggregator {
	agg := &Aggregator{}
	agg.s.MinInterval = intervalMinInit
	agg.s.RSSIMin = rssiMinInit
	agg.s.RSSIMax = rssiMaxInit
	agg.s.LQIMin = lqiMinInit
	agg.s.LQIMax = lqiMaxInit
	return agg
}

// Record counts one burst and, for accepted readings, folds the interval,
// temperature and signal quality into the extrema.
func (obj *Aggregator) Record(c Cycle) {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	s := &obj.s

	s.TotalReads++
	counters := []struct {
		flag    ErrorFlags
		counter *uint32
	}{
		{FlagBurst1, &s.Burst1Errors},
		{FlagBurst2, &s.Burst2Errors},
		{FlagMultiBurst, &s.MultiBurstErrors},
		{FlagLength, &s.LengthErrors},
		{FlagBufferMismatch, &s.BufferMismatchErrors},
		{FlagChecksum, &s.ChecksumErrors},
		{FlagUnknownFamily, &s.UnknownFamilyErrors},
	}
	for _, cnt := range counters {
		if c.Flags.Has(cnt.flag) {
			*cnt.counter++
		}
	}
	if !c.Accepted {
		return
	}

	s.GoodReads++
	interval := c.IntervalMs/1000 + (c.IntervalMs%1000)/500
	// the first accepted reading has no predecessor
	if s.GoodReads > 1 {
		s.MinInterval = min(s.MinInterval, interval)
		s.MaxInterval = max(s.MaxInterval, interval)
		s.MaxTempDelta = math.Max(math.Abs(c.Temperature-s.LastTemperature), s.MaxTempDelta)
	}
	s.RSSISum += (int64(c.RSSI[0]) + int64(c.RSSI[1])) / 2
	s.LQISum += (uint64(c.LQI[0]) + uint64(c.LQI[1])) / 2
	s.RSSIMin = min(c.RSSI[0], c.RSSI[1], s.RSSIMin)
	s.RSSIMax = max(c.RSSI[0], c.RSSI[1], s.RSSIMax)
	s.LQIMin = min(c.LQI[0], c.LQI[1], s.LQIMin)
	s.LQIMax = max(c.LQI[0], c.LQI[1], s.LQIMax)
	s.LastTemperature = c.Temperature
}

// Reset clears the statistics selected by mask.
func (obj *Aggregator) Reset(mask ResetMask) {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	s := &obj.s

	if mask == ResetAll {
		s.TotalReads = 0
		s.RSSISum = 0
		s.LQISum = 0
	}
	if mask&ResetErrors != 0 {
		s.GoodReads = s.TotalReads
		s.Burst1Errors = 0
		s.Burst2Errors = 0
		s.MultiBurstErrors = 0
		s.LengthErrors = 0
		s.BufferMismatchErrors = 0
		s.ChecksumErrors = 0
		s.UnknownFamilyErrors = 0
		mask |= ResetRSSI | ResetLQI
	}
	if mask&ResetInterval != 0 {
		s.MaxInterval = 0
		s.MinInterval = intervalMinInit
	}
	if mask&ResetLQI != 0 {
		s.LQIMax = lqiMaxInit
		s.LQIMin = lqiMinInit
	}
	if mask&ResetTempDelta != 0 {
		s.MaxTempDelta = 0
	}
	if mask&ResetRSSI != 0 {
		s.RSSIMax = rssiMaxInit
		s.RSSIMin = rssiMinInit
	}
}

// Snapshot returns a copy of the current statistics.
func (obj *Aggregator) Snapshot() Stats {
	obj.mu.RLock()
	defer obj.mu.RUnlock()
	return obj.s
}
