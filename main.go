package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mbalug7/go-cc1101-oregon/pkg/cc1101"
	"github.com/mbalug7/go-cc1101-oregon/pkg/common"
	"github.com/mbalug7/go-cc1101-oregon/pkg/config"
	"github.com/mbalug7/go-cc1101-oregon/pkg/oregon"
	"github.com/mbalug7/go-cc1101-oregon/pkg/publish"
	"github.com/mbalug7/go-cc1101-oregon/pkg/reconcile"
	"github.com/mbalug7/go-cc1101-oregon/pkg/stats"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

const Version = "v1.0.0"

const staleCheckPeriod = 10 * time.Second

func main() {
	var (
		configFile    = pflag.StringP("config", "c", "", "YAML configuration file (defaults when empty)")
		testMode      = pflag.BoolP("test", "t", false, "Log every reading and the reception statistics")
		debug         = pflag.BoolP("debug", "d", false, "Debug logging")
		showRegisters = pflag.Bool("show-registers", false, "Print the CC1101 register settings after init")
		version       = pflag.BoolP("version", "v", false, "Print version and exit")
	)
	pflag.Parse()

	if *version {
		fmt.Printf("cc1101-oregon %s\n", Version)
		os.Exit(0)
	}

	cfg := config.Default()
	if *configFile != "" {
		var err error
		cfg, err = config.Load(*configFile)
		if err != nil {
			logrus.Fatal(err)
		}
	}
	if *testMode {
		cfg.Daemon.TestMode = true
	}

	log, err := newLogger(cfg.Log, *debug)
	if err != nil {
		logrus.Fatal(err)
	}
	log.Infof("cc1101-oregon %s", Version)

	if err := run(cfg, log, *showRegisters); err != nil {
		log.Fatal(err)
	}
}

func newLogger(cfg config.LogConfig, debug bool) (*logrus.Logger, error) {
	log := logrus.New()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if debug {
		level = logrus.DebugLevel
	}
	log.SetLevel(level)
	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}

// lastReading remembers the last accepted reading for the stale watchdog.
type lastReading struct {
	mu        sync.Mutex
	update    publish.Update
	valid     bool
	staleSent bool
}

func (obj *lastReading) set(u publish.Update) {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	obj.update = u
	obj.valid = true
	obj.staleSent = false
}

// expire returns the last reading marked stale once it outlived timeout, at
// most once per reading.
func (obj *lastReading) expire(now time.Time, timeout time.Duration) (publish.Update, bool) {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	if !obj.valid || obj.staleSent || obj.update.Age(now) <= timeout {
		return publish.Update{}, false
	}
	obj.staleSent = true
	u := obj.update
	u.Stale = true
	return u, true
}

func run(cfg *config.Config, log *logrus.Logger, showRegisters bool) error {
	instance := uuid.New().String()

	hw, err := common.NewHWHandler(common.HWConfig{
		SPIPort:  cfg.Hardware.SPIPort,
		SPISpeed: cfg.Hardware.SPISpeedHz,
		GPIOChip: cfg.Hardware.GPIOChip,
		SyncPin:  cfg.Hardware.GDO2Pin,
		CSPin:    cfg.Hardware.CSPin,
	})
	if err != nil {
		return err
	}

	chip := cc1101.NewChip(hw,
		cc1101.WithLogger(log.WithField("component", "cc1101")),
		cc1101.WithMaxStatePolls(cfg.Radio.MaxStatePolls),
		cc1101.WithSyncTimeout(cfg.SyncTimeout()),
	)
	defer func() {
		if err := chip.Close(); err != nil {
			log.WithError(err).Error("failed to close CC1101")
		}
	}()

	if err := chip.Configure(cc1101.OregonOOK433()); err != nil {
		return err
	}
	if cfg.Radio.FrequencyHz != 0 {
		if err := cc1101.NewConfigBuilder(chip).Frequency(cfg.Radio.FrequencyHz).Write(); err != nil {
			return err
		}
	}
	log.WithField("identity", chip.Identity()).Info("CC1101 configured")

	if showRegisters {
		regs, err := chip.ReadConfig()
		if err != nil {
			return err
		}
		for _, line := range regs.Dump() {
			log.Info(line)
		}
	}

	agg := stats.NewAggregator()
	acquirer := oregon.NewAcquirer(chip, oregon.WithLogger(log.WithField("component", "oregon")))
	rec := reconcile.New(chip, acquirer, reconcile.NewSystemClock(), agg,
		reconcile.WithLogger(log.WithField("component", "reconcile")))

	logPub := publish.NewLogPublisher(log, cfg.Daemon.TestMode, cfg.Daemon.StatsLogEvery)
	pubs := publish.Multi{logPub}

	if cfg.MQTT.Enabled {
		clientID := cfg.MQTT.ClientID
		if clientID == "" {
			clientID = "cc1101-oregon-" + instance[:8]
		}
		mqttPub, err := publish.NewMQTTPublisher(cfg.MQTT, clientID, rec.RequestReset, log.WithField("component", "mqtt"))
		if err != nil {
			return err
		}
		pubs = append(pubs, mqttPub)
	}

	if cfg.Serial.Enabled {
		serialPub, err := publish.NewSerialPublisher(cfg.Serial.Port, cfg.Serial.Baud)
		if err != nil {
			pubs.Close()
			return err
		}
		pubs = append(pubs, serialPub)
	}

	var server *http.Server
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		collector, err := publish.NewCollector(reg)
		if err != nil {
			pubs.Close()
			return err
		}
		pubs = append(pubs, collector)

		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		server = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Infof("metrics listening on %s%s", cfg.Metrics.Listen, cfg.Metrics.Path)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("metrics server failed")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	last := &lastReading{}
	timeout := cfg.DataInvalidAfter()
	go func() {
		ticker := time.NewTicker(staleCheckPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				u, ok := last.expire(now, timeout)
				if !ok {
					continue
				}
				u.Stats = agg.Snapshot()
				if err := pubs.Publish(u); err != nil {
					log.WithError(err).Warn("failed to publish stale reading")
				}
			}
		}
	}()

	sink := func(out reconcile.Outcome) {
		if out.Resolved && !out.Accepted {
			log.WithField("errors", out.Flags).Debug("burst pair rejected")
		}
		if !out.Accepted {
			return
		}
		u := publish.Update{
			Instance: instance,
			Received: time.Now(),
			Reading:  out.Reading,
			Quality:  out.Quality,
			Stats:    agg.Snapshot(),
		}
		last.set(u)
		if err := pubs.Publish(u); err != nil {
			log.WithError(err).Warn("failed to publish reading")
		}
	}

	log.WithFields(logrus.Fields{
		"instance":     instance,
		"test_mode":    cfg.Daemon.TestMode,
		"data_invalid": timeout,
	}).Info("receiving Oregon Scientific sensors")
	err = rec.Run(ctx, sink)
	log.Info("shutting down")

	if cfg.Daemon.TestMode {
		logPub.LogStats(agg.Snapshot().Lines())
	}
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("failed to stop metrics server")
		}
	}
	if err := pubs.Close(); err != nil {
		log.WithError(err).Warn("failed to close publishers")
	}
	return err
}
