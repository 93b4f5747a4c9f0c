package publish

import (
	"github.com/sirupsen/logrus"
)

// LogPublisher writes readings to a logrus logger. In test mode every
// reading is printed in full and the bad/all counters are logged every
// `every` reads.
type LogPublisher struct {
	log      logrus.FieldLogger
	testMode bool
	every    uint64
}

func NewLogPublisher(log logrus.FieldLogger, testMode bool, every int) *LogPublisher {
	if every < 0 {
		every = 0
	}
	return &LogPublisher{log: log, testMode: testMode, every: uint64(every)}
}

func (obj *LogPublisher) Publish(u Update) error {
	if u.Stale {
		obj.log.WithField("received", u.Received).Warn("the update is too old, reading invalid")
		return nil
	}
	entry := obj.log.WithFields(logrus.Fields{
		"sensor":      u.Reading.SensorID,
		"channel":     u.Reading.Channel,
		"roll_code":   u.Reading.RollCode,
		"battery_low": u.Reading.BatteryLow,
		"temperature": u.Reading.Temperature,
		"rssi":        u.Quality.RSSI,
		"lqi":         u.Quality.LQI,
	})
	if !obj.testMode {
		entry.Debug("reading accepted")
		return nil
	}
	entry.Info("reading accepted")
	if obj.every > 0 && u.Stats.TotalReads%obj.every == 1 {
		obj.log.Infof("Oregon pkt (bad/all) # %d / %d", u.Stats.BadReads(), u.Stats.TotalReads)
	}
	return nil
}

// LogStats dumps the statistics, one line per entry.
func (obj *LogPublisher) LogStats(lines []string) {
	for _, line := range lines {
		obj.log.Info(line)
	}
}

func (obj *LogPublisher) Close() error {
	return nil
}
