package publish

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/mbalug7/go-cc1101-oregon/pkg/config"
	"github.com/mbalug7/go-cc1101-oregon/pkg/stats"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const publishTimeout = 5 * time.Second

// ReadingPayload is published to <prefix>/reading
type ReadingPayload struct {
	Instance    string  `json:"instance"`
	Timestamp   int64   `json:"timestamp"`
	Stale       bool    `json:"stale"`
	SensorID    string  `json:"sensor_id"`
	Channel     uint8   `json:"channel"`
	RollCode    string  `json:"roll_code"`
	BatteryLow  bool    `json:"battery_low"`
	Temperature float64 `json:"temperature"`
	RSSI        int8    `json:"rssi_dbm"`
	LQI         uint8   `json:"lqi"`
}

// StatsPayload is published to <prefix>/stats
type StatsPayload struct {
	Instance       string  `json:"instance"`
	Timestamp      int64   `json:"timestamp"`
	TotalReads     uint64  `json:"total_reads"`
	GoodReads      uint64  `json:"good_reads"`
	Burst1         uint32  `json:"brst1_errors"`
	Burst2         uint32  `json:"brst2_errors"`
	MultiBurst     uint32  `json:"mbrst_errors"`
	Length         uint32  `json:"pktlen_errors"`
	BufferMismatch uint32  `json:"buffmatch_errors"`
	Checksum       uint32  `json:"chksum_errors"`
	UnknownFamily  uint32  `json:"family_errors"`
	MinInterval    *uint32 `json:"min_interval_s,omitempty"`
	MaxInterval    *uint32 `json:"max_interval_s,omitempty"`
	MaxTempDelta   float64 `json:"max_temp_diff"`
	RSSIMin        *int8   `json:"rssi_min,omitempty"`
	RSSIMax        *int8   `json:"rssi_max,omitempty"`
	RSSIAvg        int64   `json:"rssi_avg"`
	LQIMin         *uint8  `json:"lqi_min,omitempty"`
	LQIMax         *uint8  `json:"lqi_max,omitempty"`
	LQIAvg         uint64  `json:"lqi_avg"`
}

func newReadingPayload(u Update) ReadingPayload {
	return ReadingPayload{
		Instance:    u.Instance,
		Timestamp:   u.Received.Unix(),
		Stale:       u.Stale,
		SensorID:    fmt.Sprintf("0x%04X", u.Reading.SensorID),
		Channel:     u.Reading.Channel,
		RollCode:    fmt.Sprintf("0x%02X", u.Reading.RollCode),
		BatteryLow:  u.Reading.BatteryLow,
		Temperature: u.Reading.Temperature,
		RSSI:        u.Quality.RSSI,
		LQI:         u.Quality.LQI,
	}
}

func newStatsPayload(instance string, now time.Time, s stats.Stats) StatsPayload {
	p := StatsPayload{
		Instance:       instance,
		Timestamp:      now.Unix(),
		TotalReads:     s.TotalReads,
		GoodReads:      s.GoodReads,
		Burst1:         s.Burst1Errors,
		Burst2:         s.Burst2Errors,
		MultiBurst:     s.MultiBurstErrors,
		Length:         s.LengthErrors,
		BufferMismatch: s.BufferMismatchErrors,
		Checksum:       s.ChecksumErrors,
		UnknownFamily:  s.UnknownFamilyErrors,
		MaxTempDelta:   s.MaxTempDelta,
		RSSIAvg:        s.AverageRSSI(),
		LQIAvg:         s.AverageLQI(),
	}
	// sentinels are not published
	if s.IntervalsValid() {
		p.MinInterval, p.MaxInterval = &s.MinInterval, &s.MaxInterval
	}
	if s.RSSIValid() {
		p.RSSIMin, p.RSSIMax = &s.RSSIMin, &s.RSSIMax
	}
	if s.LQIValid() {
		p.LQIMin, p.LQIMax = &s.LQIMin, &s.LQIMax
	}
	return p
}

// MQTTPublisher publishes readings and statistics as JSON and listens for
// statistics reset requests on <prefix>/reset. The reset payload is the mask
// in binary digits, an empty payload resets everything.
type MQTTPublisher struct {
	client mqtt.Client
	cfg    config.MQTTConfig
	log    logrus.FieldLogger
}

func NewMQTTPublisher(cfg config.MQTTConfig, clientID string, onReset func(stats.ResetMask), log logrus.FieldLogger) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	resetTopic := topic(cfg.TopicPrefix, "reset")
	handler := resetHandler(onReset, log)
	// subscriptions do not survive a reconnect with a clean session
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.WithField("broker", cfg.Broker).Info("MQTT connected")
		if onReset == nil {
			return
		}
		token := client.Subscribe(resetTopic, cfg.QoS, handler)
		if token.WaitTimeout(publishTimeout) && token.Error() != nil {
			log.WithError(token.Error()).Errorf("MQTT subscribe to %s failed", resetTopic)
		}
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.WithError(err).Warn("MQTT connection lost")
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, errors.Wrap(token.Error(), "failed to connect to MQTT broker")
	}
	return &MQTTPublisher{client: client, cfg: cfg, log: log}, nil
}

func topic(prefix string, leaf string) string {
	return strings.TrimSuffix(prefix, "/") + "/" + leaf
}

func resetHandler(onReset func(stats.ResetMask), log logrus.FieldLogger) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		payload := strings.TrimPrefix(strings.TrimSpace(string(msg.Payload())), "-r")
		mask, err := stats.ParseResetMask(payload)
		if err != nil {
			log.WithError(err).Warn("ignoring statistics reset request")
			return
		}
		log.WithField("mask", mask).Info("statistics reset requested")
		onReset(mask)
	}
}

func (obj *MQTTPublisher) publish(leaf string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal %s payload", leaf)
	}
	t := topic(obj.cfg.TopicPrefix, leaf)
	token := obj.client.Publish(t, obj.cfg.QoS, obj.cfg.Retain, data)
	if !token.WaitTimeout(publishTimeout) {
		return errors.Errorf("publish to %s timed out", t)
	}
	if err := token.Error(); err != nil {
		return errors.Wrapf(err, "failed to publish to %s", t)
	}
	return nil
}

func (obj *MQTTPublisher) Publish(u Update) error {
	if err := obj.publish("reading", newReadingPayload(u)); err != nil {
		return err
	}
	return obj.publish("stats", newStatsPayload(u.Instance, time.Now(), u.Stats))
}

func (obj *MQTTPublisher) Close() error {
	obj.client.Disconnect(250)
	return nil
}
