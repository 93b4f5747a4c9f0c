// Package publish hands accepted readings and statistics to the outside
// world: logs, MQTT, a serial line and Prometheus.
package publish

import (
	"time"

	"github.com/mbalug7/go-cc1101-oregon/pkg/oregon"
	"github.com/mbalug7/go-cc1101-oregon/pkg/stats"
	"github.com/pkg/errors"
)

// Update is one accepted reading, or the last one marked stale once it
// outlived the data invalid timeout.
type Update struct {
	Instance string
	Received time.Time
	Reading  oregon.Reading
	Quality  oregon.Quality
	Stats    stats.Stats
	Stale    bool
}

// Age returns how old the reading is at now.
func (obj Update) Age(now time.Time) time.Duration {
	return now.Sub(obj.Received)
}

type Publisher interface {
	Publish(Update) error
	Close() error
}

// Multi fans an update out to several publishers. A failing publisher does
// not stop the others.
type Multi []Publisher

func (obj Multi) Publish(u Update) error {
	var first error
	failed := 0
	for _, p := range obj {
		if err := p.Publish(u); err != nil {
			failed++
			if first == nil {
				first = err
			}
		}
	}
	if first != nil {
		return errors.Wrapf(first, "%d of %d publishers failed", failed, len(obj))
	}
	return nil
}

func (obj Multi) Close() error {
	var first error
	for _, p := range obj {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
