package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/mbalug7/go-cc1101-oregon/pkg/oregon"
	"github.com/mbalug7/go-cc1101-oregon/pkg/stats"
)

type fakeClock struct {
	now uint32
}

func (obj *fakeClock) Millis() uint32 {
	return obj.now
}

type fakeSensor struct {
	pending bool
}

func (obj *fakeSensor) BurstPending() (bool, error) {
	p := obj.pending
	obj.pending = false
	return p, nil
}

type result struct {
	frame   oregon.Frame
	quality oregon.Quality
	err     error
}

type fakeSource struct {
	results []result
}

func (obj *fakeSource) Acquire() (oregon.Frame, oregon.Quality, error) {
	r := obj.results[0]
	obj.results = obj.results[1:]
	return r.frame, r.quality, r.err
}

func frameOf(data ...byte) oregon.Frame {
	var f oregon.Frame
	f.Len = copy(f.Data[:], data)
	return f
}

var (
	cold     = frameOf(0xEC, 0x40, 0x3A, 0x4C, 0x51, 0x23, 0x64, 0x00)
	coldOdd  = frameOf(0xEC, 0x40, 0x3A, 0x4D, 0x51, 0x23, 0x64, 0x00)
	badCksum = frameOf(0xEC, 0x40, 0x3A, 0x4C, 0x51, 0x23, 0x65, 0x00)
	unknown  = frameOf(0x1A, 0x2D, 0x10, 0x00, 0x00, 0x00, 0x00, 0x00)
	short    = frameOf(0xEC, 0x40, 0x3A, 0x4C, 0x51, 0x23, 0x64)

	qualityA = oregon.Quality{RSSI: -60, LQI: 10}
	qualityB = oregon.Quality{RSSI: -70, LQI: 20}
)

type harness struct {
	clock  *fakeClock
	sensor *fakeSensor
	source *fakeSource
	agg    *stats.Aggregator
	rec    *Reconciler
}

func newHarness(start uint32) *harness {
	h := &harness{
		clock:  &fakeClock{now: start},
		sensor: &fakeSensor{},
		source: &fakeSource{},
		agg:    stats.NewAggregator(),
	}
	h.rec = New(h.sensor, h.source, h.clock, h.agg)
	return h
}

func (h *harness) burst(t *testing.T, at uint32, r result) Outcome {
	t.Helper()
	h.clock.now = at
	h.sensor.pending = true
	h.source.results = append(h.source.results, r)
	out, err := h.rec.Poll()
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if !out.Burst {
		t.Fatal("burst not seen")
	}
	return out
}

func TestPairResolution(t *testing.T) {
	tests := []struct {
		name     string
		a, b     result
		accepted bool
		flags    stats.ErrorFlags
		quality  oregon.Quality
	}{
		{
			name:     "identical",
			a:        result{frame: cold, quality: qualityA},
			b:        result{frame: cold, quality: qualityB},
			accepted: true,
			quality:  oregon.Quality{RSSI: -70, LQI: 20},
		},
		{
			name:     "differing",
			a:        result{frame: coldOdd, quality: qualityA},
			b:        result{frame: cold, quality: qualityB},
			accepted: true,
			flags:    stats.FlagBufferMismatch,
			quality:  oregon.Quality{RSSI: -70, LQI: 20},
		},
		{
			name:     "first burst lost",
			a:        result{err: oregon.ErrSyncNotFound},
			b:        result{frame: cold, quality: qualityB},
			accepted: true,
			flags:    stats.FlagBurst1,
			quality:  qualityB,
		},
		{
			name:     "second burst lost",
			a:        result{frame: cold, quality: qualityA},
			b:        result{err: oregon.ErrBitError},
			accepted: true,
			flags:    stats.FlagBurst2,
			quality:  qualityA,
		},
		{
			name:  "both lost",
			a:     result{err: oregon.ErrNoData},
			b:     result{err: oregon.ErrSyncNibbleMissing},
			flags: stats.FlagBurst1 | stats.FlagBurst2,
		},
		{
			name:    "too short",
			a:       result{frame: cold, quality: qualityA},
			b:       result{frame: short, quality: qualityB},
			flags:   stats.FlagLength,
			quality: oregon.Quality{RSSI: -70, LQI: 20},
		},
		{
			name:    "checksum",
			a:       result{frame: badCksum, quality: qualityA},
			b:       result{frame: badCksum, quality: qualityB},
			flags:   stats.FlagChecksum,
			quality: oregon.Quality{RSSI: -70, LQI: 20},
		},
		{
			name:    "unknown family",
			a:       result{frame: unknown, quality: qualityA},
			b:       result{frame: unknown, quality: qualityB},
			flags:   stats.FlagUnknownFamily,
			quality: oregon.Quality{RSSI: -70, LQI: 20},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			h := newHarness(0)
			first := h.burst(t, 5000, test.a)
			if first.Slot != SlotFirst || first.Resolved {
				t.Fatalf("first burst outcome = %+v", first)
			}
			if h.rec.PollInterval() != ShortDelay {
				t.Errorf("poll interval in pair = %s", h.rec.PollInterval())
			}

			out := h.burst(t, 5400, test.b)
			if out.Slot != SlotSecond || !out.Resolved {
				t.Fatalf("second burst outcome = %+v", out)
			}
			if out.Accepted != test.accepted {
				t.Errorf("accepted = %v, want %v", out.Accepted, test.accepted)
			}
			if out.Flags != test.flags {
				t.Errorf("flags = %s, want %s", out.Flags, test.flags)
			}
			if out.Quality != test.quality {
				t.Errorf("quality = %s, want %s", out.Quality, test.quality)
			}
			if h.rec.PollInterval() != ShortDelay+AdditionalDelay {
				t.Errorf("poll interval after pair = %s", h.rec.PollInterval())
			}

			s := h.agg.Snapshot()
			if s.TotalReads != 1 {
				t.Errorf("total reads = %d, want 1", s.TotalReads)
			}
			if test.accepted {
				if s.GoodReads != 1 || out.IntervalMs != 5400 || out.Reading.Temperature != -21.5 {
					t.Errorf("good = %d, interval = %d, reading = %s", s.GoodReads, out.IntervalMs, out.Reading)
				}
				if s.RSSIMin != test.quality.RSSI || s.LQIMax != test.quality.LQI {
					t.Errorf("stats quality = %d/%d", s.RSSIMin, s.LQIMax)
				}
			} else if s.GoodReads != 0 {
				t.Errorf("good reads = %d, want 0", s.GoodReads)
			}
		})
	}
}

func TestLengthCappedToShorterBurst(t *testing.T) {
	h := newHarness(0)
	long := cold
	long.Len = 10
	h.burst(t, 5000, result{frame: long, quality: qualityA})
	out := h.burst(t, 5100, result{frame: cold, quality: qualityB})
	if out.Frame.Len != 8 || !out.Accepted {
		t.Errorf("frame = %s, accepted = %v", out.Frame, out.Accepted)
	}
}

func TestStrayBurst(t *testing.T) {
	h := newHarness(0)
	h.burst(t, 5000, result{frame: cold, quality: qualityA})
	h.burst(t, 5300, result{frame: cold, quality: qualityB})
	out := h.burst(t, 5600, result{frame: cold, quality: qualityA})
	if out.Slot != SlotStray || out.Resolved || out.Flags != stats.FlagMultiBurst {
		t.Errorf("third burst outcome = %+v", out)
	}
	s := h.agg.Snapshot()
	if s.TotalReads != 2 || s.GoodReads != 1 || s.MultiBurstErrors != 1 {
		t.Errorf("stats = %+v", s)
	}

	// next transmission starts a new pair
	h.burst(t, 45000, result{frame: cold, quality: qualityA})
	out = h.burst(t, 45300, result{frame: cold, quality: qualityB})
	if !out.Accepted || out.IntervalMs != 40000 {
		t.Errorf("next pair outcome = %+v", out)
	}
	s = h.agg.Snapshot()
	if s.GoodReads != 2 || s.MinInterval != 40 || s.MaxInterval != 40 {
		t.Errorf("stats = %+v", s)
	}
}

func TestFirstBurstInsideStartupWindow(t *testing.T) {
	h := newHarness(0)
	out := h.burst(t, 300, result{frame: cold, quality: qualityA})
	if out.Slot != SlotFirst || out.Resolved {
		t.Errorf("outcome = %+v", out)
	}
	if h.agg.Snapshot().TotalReads != 1 {
		t.Errorf("total reads = %d, want 1", h.agg.Snapshot().TotalReads)
	}
}

func TestClockWraparound(t *testing.T) {
	h := newHarness(0xFFFF0000)
	h.burst(t, 0xFFFFFF00, result{frame: cold, quality: qualityA})
	out := h.burst(t, 0x00000100, result{frame: cold, quality: qualityB})
	if out.Slot != SlotSecond || !out.Accepted {
		t.Fatalf("outcome = %+v", out)
	}
	if out.IntervalMs != 0x10100 {
		t.Errorf("interval = %d, want %d", out.IntervalMs, 0x10100)
	}
}

func TestResetDeferredOutsidePair(t *testing.T) {
	h := newHarness(0)
	h.rec.RequestReset(stats.ResetAll)
	h.agg.Record(stats.Cycle{Flags: stats.FlagBurst1})

	out := h.burst(t, 5000, result{frame: cold, quality: qualityA})
	if out.ResetApplied {
		t.Fatal("reset applied between the bursts of a pair")
	}
	out = h.burst(t, 5200, result{frame: cold, quality: qualityB})
	if !out.ResetApplied {
		t.Fatal("reset not applied after the pair")
	}
	s := h.agg.Snapshot()
	if s.TotalReads != 0 || s.Burst1Errors != 0 {
		t.Errorf("stats after reset = %+v", s)
	}

	// nothing pending any more
	if out, _ := h.rec.Poll(); out.ResetApplied {
		t.Error("reset applied twice")
	}
}

func TestRunForwardsBursts(t *testing.T) {
	h := newHarness(0)
	h.sensor.pending = true
	h.source.results = []result{{frame: cold, quality: qualityA}}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got := make(chan Outcome, 1)
	done := make(chan error, 1)
	go func() {
		done <- h.rec.Run(ctx, func(out Outcome) {
			got <- out
			cancel()
		})
	}()

	select {
	case out := <-got:
		if out.Slot != SlotFirst {
			t.Errorf("slot = %s", out.Slot)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no outcome forwarded")
	}
	if err := <-done; err != nil {
		t.Errorf("Run: %v", err)
	}
}
