// Package reconcile pairs the two bursts an Oregon sensor sends per
// transmission, reconciles them into one reading and feeds the statistics.
package reconcile

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/mbalug7/go-cc1101-oregon/pkg/oregon"
	"github.com/mbalug7/go-cc1101-oregon/pkg/stats"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// PairWindowMs is the longest gap between two bursts of one transmission.
	PairWindowMs = 1000
	// ShortDelay is the poll period while the second burst is awaited.
	ShortDelay = 5 * time.Millisecond
	// AdditionalDelay is added to ShortDelay outside a pair.
	AdditionalDelay = 100 * time.Millisecond

	// decoded bytes compared between the two bursts
	comparedBytes = 7
)

// BurstSensor reports a completely received burst.
type BurstSensor interface {
	BurstPending() (bool, error)
}

// FrameSource reads and demodulates the pending burst.
type FrameSource interface {
	Acquire() (oregon.Frame, oregon.Quality, error)
}

// Clock is a free running millisecond counter, allowed to wrap.
type Clock interface {
	Millis() uint32
}

// SystemClock counts milliseconds since its creation.
type SystemClock struct {
	start time.Time
}

func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

func (obj *SystemClock) Millis() uint32 {
	return uint32(time.Since(obj.start).Milliseconds())
}

// Slot tells how a burst was used.
type Slot int

const (
	SlotNone   Slot = iota
	SlotFirst       // stored, waiting for its pair
	SlotSecond      // resolved the pair
	SlotStray       // third or later burst of a pair, read only to clear the FIFO
)

func (s Slot) String() string {
	switch s {
	case SlotFirst:
		return "first"
	case SlotSecond:
		return "second"
	case SlotStray:
		return "stray"
	default:
		return "none"
	}
}

// Outcome describes one Poll.
type Outcome struct {
	Burst    bool // a burst was pending and read
	Slot     Slot
	BurstErr error // acquisition error of the burst read in this poll
	At       uint32

	Resolved   bool // a pair was resolved
	Accepted   bool
	Frame      oregon.Frame // frame selected for decoding, Len capped to the shorter burst
	Reading    oregon.Reading
	Quality    oregon.Quality // min RSSI and max LQI of the pair
	Flags      stats.ErrorFlags
	IntervalMs uint32 // since the previous accepted reading

	ResetApplied bool
}

type acquisition struct {
	frame   oregon.Frame
	quality oregon.Quality
	err     error
}

type Option func(*Reconciler)

func WithLogger(log logrus.FieldLogger) Option {
	return func(obj *Reconciler) {
		obj.log = log
	}
}

// Reconciler owns the pairing state. Poll and Run must be called from one
// goroutine, RequestReset from any.
type Reconciler struct {
	sensor BurstSensor
	source FrameSource
	clock  Clock
	agg    *stats.Aggregator
	log    logrus.FieldLogger

	oldTime   uint32 // first burst of the current pair
	prevTime  uint32 // last accepted reading
	addDelay  time.Duration
	burstNum  int
	firstIter bool
	slotA     acquisition

	muReset      sync.Mutex
	resetPending bool
	resetMask    stats.ResetMask
}

func New(sensor BurstSensor, source FrameSource, clock Clock, agg *stats.Aggregator, opts ...Option) *Reconciler {
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	now := clock.Millis()
	rec := &Reconciler{
		sensor:    sensor,
		source:    source,
		clock:     clock,
		agg:       agg,
		log:       discard,
		oldTime:   now,
		prevTime:  now,
		addDelay:  AdditionalDelay,
		firstIter: true,
	}
	for _, opt := range opts {
		opt(rec)
	}
	return rec
}

// PollInterval is the delay before the next Poll.
func (obj *Reconciler) PollInterval() time.Duration {
	return ShortDelay + obj.addDelay
}

// RequestReset schedules a statistics reset. It is applied by Poll outside a
// burst pair so a pair is never split between old and new counters.
func (obj *Reconciler) RequestReset(mask stats.ResetMask) {
	obj.muReset.Lock()
	defer obj.muReset.Unlock()
	obj.resetPending = true
	obj.resetMask = mask
}

// Poll checks for a received burst once and advances the pairing state.
func (obj *Reconciler) Poll() (Outcome, error) {
	var out Outcome
	pending, err := obj.sensor.BurstPending()
	if err != nil {
		return out, errors.Wrap(err, "burst detection failed")
	}
	if pending {
		out = obj.onBurst()
	}
	out.ResetApplied = obj.applyReset()
	return out, nil
}

// Run polls until ctx is done and hands every outcome with a burst to sink.
func (obj *Reconciler) Run(ctx context.Context, sink func(Outcome)) error {
	for {
		timer := time.NewTimer(obj.PollInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		out, err := obj.Poll()
		if err != nil {
			obj.log.WithError(err).Warn("poll failed")
			continue
		}
		if out.Burst && sink != nil {
			sink(out)
		}
	}
}

func (obj *Reconciler) onBurst() Outcome {
	now := obj.clock.Millis()
	out := Outcome{Burst: true, At: now}

	counted := false
	if now-obj.oldTime > PairWindowMs {
		obj.oldTime = now
		obj.addDelay = 0
		obj.burstNum = 0
	} else {
		obj.addDelay = AdditionalDelay
		obj.burstNum++
		counted = true
	}

	if obj.burstNum != 1 || obj.firstIter {
		obj.slotA = obj.acquire()
		out.Slot = SlotFirst
		out.BurstErr = obj.slotA.err
		if counted {
			var flags stats.ErrorFlags
			if obj.burstNum > 1 {
				out.Slot = SlotStray
				flags = stats.FlagMultiBurst
			}
			out.Flags = flags
			obj.agg.Record(stats.Cycle{Flags: flags})
		}
	} else {
		slotB := obj.acquire()
		out.Slot = SlotSecond
		out.BurstErr = slotB.err
		obj.resolve(&out, obj.slotA, slotB, now)
	}
	obj.firstIter = false

	obj.log.WithFields(logrus.Fields{
		"at":    now,
		"slot":  out.Slot,
		"burst": obj.burstNum,
	}).Debug("burst received")
	return out
}

func (obj *Reconciler) acquire() acquisition {
	frame, quality, err := obj.source.Acquire()
	if err != nil {
		obj.log.WithError(err).Debug("burst not acquired")
	}
	return acquisition{frame: frame, quality: quality, err: err}
}

func (obj *Reconciler) resolve(out *Outcome, a acquisition, b acquisition, now uint32) {
	okA, okB := a.err == nil, b.err == nil
	qA, qB := a.quality, b.quality

	var frame oregon.Frame
	length := 0
	mismatch := false
	switch {
	case okA && okB:
		// decoded data can run a bit longer in one burst, use the shorter length
		length = min(a.frame.Len, b.frame.Len)
		frame = b.frame
		n := min(length, comparedBytes)
		mismatch = !bytes.Equal(a.frame.Data[:n], b.frame.Data[:n])
	case okA:
		length = a.frame.Len
		frame = a.frame
		qB = qA
	case okB:
		length = b.frame.Len
		frame = b.frame
		qA = qB
	}
	frame.Len = length

	var flags stats.ErrorFlags
	if !okA {
		flags |= stats.FlagBurst1
	}
	if !okB {
		flags |= stats.FlagBurst2
	}
	if mismatch {
		flags |= stats.FlagBufferMismatch
	}

	accepted := false
	var reading oregon.Reading
	if okA || okB {
		if length < oregon.MinFrameLen {
			flags |= stats.FlagLength
		} else {
			var err error
			reading, err = oregon.Decode(frame)
			switch {
			case err != nil:
				flags |= stats.FlagUnknownFamily
				obj.log.WithError(err).Debug("frame not decoded")
			case !reading.ChecksumOK:
				flags |= stats.FlagChecksum
			default:
				accepted = true
			}
		}
	}

	out.Resolved = true
	out.Frame = frame
	out.Reading = reading
	out.Flags = flags
	out.Quality = oregon.Quality{
		RSSI: min(qA.RSSI, qB.RSSI),
		LQI:  max(qA.LQI, qB.LQI),
	}

	cycle := stats.Cycle{Flags: flags}
	if accepted {
		out.Accepted = true
		out.IntervalMs = now - obj.prevTime
		obj.prevTime = now
		cycle = stats.Cycle{
			Accepted:    true,
			Flags:       flags,
			IntervalMs:  out.IntervalMs,
			Temperature: reading.Temperature,
			RSSI:        [2]int8{qA.RSSI, qB.RSSI},
			LQI:         [2]uint8{qA.LQI, qB.LQI},
		}
	}
	obj.agg.Record(cycle)
}

func (obj *Reconciler) applyReset() bool {
	// not between the two bursts of a pair
	if obj.addDelay == 0 {
		return false
	}
	obj.muReset.Lock()
	pending, mask := obj.resetPending, obj.resetMask
	obj.resetPending = false
	obj.muReset.Unlock()
	if !pending {
		return false
	}
	obj.agg.Reset(mask)
	obj.log.WithField("mask", mask).Info("Oregon Rx statistics reset")
	return true
}
