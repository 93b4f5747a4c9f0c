package publish

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "oregon"

// Collector exposes the last reading and the reception statistics as
// Prometheus gauges. The statistics are resettable, so counters are gauges too.
type Collector struct {
	temperature *prometheus.GaugeVec
	batteryLow  *prometheus.GaugeVec
	rssi        *prometheus.GaugeVec
	lqi         *prometheus.GaugeVec
	lastUpdate  *prometheus.GaugeVec
	stale       prometheus.Gauge
	reads       *prometheus.GaugeVec
	errorsTotal *prometheus.GaugeVec
}

func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	labels := []string{"sensor", "channel"}
	c := &Collector{
		temperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "temperature_celsius", Help: "Last accepted temperature reading",
		}, labels),
		batteryLow: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "battery_low", Help: "Sensor battery low flag",
		}, labels),
		rssi: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "rssi_dbm", Help: "Minimum RSSI of the last accepted burst pair",
		}, labels),
		lqi: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "lqi", Help: "Maximum LQI of the last accepted burst pair",
		}, labels),
		lastUpdate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_update_timestamp_seconds", Help: "Unix time of the last accepted reading",
		}, labels),
		stale: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "reading_stale", Help: "1 when the last reading is older than the data invalid timeout",
		}),
		reads: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "reads", Help: "Received bursts since the last statistics reset",
		}, []string{"result"}),
		errorsTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "errors", Help: "Reception errors since the last statistics reset",
		}, []string{"class"}),
	}
	for _, col := range []prometheus.Collector{
		c.temperature, c.batteryLow, c.rssi, c.lqi, c.lastUpdate, c.stale, c.reads, c.errorsTotal,
	} {
		if err := reg.Register(col); err != nil {
			return nil, errors.Wrap(err, "failed to register metric")
		}
	}
	return c, nil
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (obj *Collector) Publish(u Update) error {
	obj.stale.Set(boolGauge(u.Stale))
	s := u.Stats
	obj.reads.WithLabelValues("total").Set(float64(s.TotalReads))
	obj.reads.WithLabelValues("good").Set(float64(s.GoodReads))
	obj.reads.WithLabelValues("bad").Set(float64(s.BadReads()))
	for class, v := range map[string]uint32{
		"brst1":   s.Burst1Errors,
		"brst2":   s.Burst2Errors,
		"mbrst":   s.MultiBurstErrors,
		"pktlen":  s.LengthErrors,
		"bfmatch": s.BufferMismatchErrors,
		"chksum":  s.ChecksumErrors,
		"family":  s.UnknownFamilyErrors,
	} {
		obj.errorsTotal.WithLabelValues(class).Set(float64(v))
	}
	if u.Stale {
		return nil
	}

	sensor := fmt.Sprintf("0x%04X", u.Reading.SensorID)
	channel := strconv.Itoa(int(u.Reading.Channel))
	obj.temperature.WithLabelValues(sensor, channel).Set(u.Reading.Temperature)
	obj.batteryLow.WithLabelValues(sensor, channel).Set(boolGauge(u.Reading.BatteryLow))
	obj.rssi.WithLabelValues(sensor, channel).Set(float64(u.Quality.RSSI))
	obj.lqi.WithLabelValues(sensor, channel).Set(float64(u.Quality.LQI))
	obj.lastUpdate.WithLabelValues(sensor, channel).Set(float64(u.Received.Unix()))
	return nil
}

func (obj *Collector) Close() error {
	return nil
}
