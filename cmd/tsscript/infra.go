package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lsst-ts/ts-standardscripts/internal/infrastructure/config"
	"github.com/lsst-ts/ts-standardscripts/internal/infrastructure/database"
	"github.com/lsst-ts/ts-standardscripts/internal/infrastructure/imageserver"
	"github.com/lsst-ts/ts-standardscripts/internal/infrastructure/influxdb"
	"github.com/lsst-ts/ts-standardscripts/internal/infrastructure/lfa"
	"github.com/lsst-ts/ts-standardscripts/internal/infrastructure/logging"
	"github.com/lsst-ts/ts-standardscripts/internal/infrastructure/mqtt"
	"github.com/lsst-ts/ts-standardscripts/migrations"
)

// healthCheckTimeout bounds the startup health check.
const healthCheckTimeout = 10 * time.Second

// infra holds the connections of one process. Optional members are nil when
// disabled in the configuration.
type infra struct {
	cfg    *config.Config
	log    *logging.Logger
	topics mqtt.Topics

	db     *database.DB
	mqtt   *mqtt.Client
	influx *influxdb.Client
	lfa    *lfa.Client
	images *imageserver.Client

	closers []func()
}

// openInfra connects everything the configuration enables. On error the
// connections opened so far are closed.
func openInfra(ctx context.Context, cfg *config.Config, log *logging.Logger) (_ *infra, err error) {
	in := &infra{cfg: cfg, log: log, topics: mqtt.Topics{Namespace: cfg.Site.Namespace}}
	defer func() {
		if err != nil {
			in.Close()
		}
	}()

	in.db, err = database.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	in.onClose("database", in.db.Close)
	log.Info("database connected", "path", cfg.Database.Path)

	if err = in.db.Migrate(ctx, migrations.FS); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations complete")

	in.mqtt, err = mqtt.Connect(cfg.MQTT, in.topics)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	in.mqtt.SetLogger(log)
	in.mqtt.SetOnConnect(func() { log.Info("MQTT reconnected") })
	in.mqtt.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
	in.onClose("MQTT", in.mqtt.Close)
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	if cfg.InfluxDB.Enabled {
		in.influx, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		in.influx.SetOnError(func(err error) { log.Error("InfluxDB write error", "error", err) })
		in.onClose("InfluxDB", in.influx.Close)
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	in.lfa, err = lfa.Connect(cfg.LFA, cfg.LFABucketName())
	switch {
	case errors.Is(err, lfa.ErrDisabled):
		log.Info("large file annex disabled")
		err = nil
	case err != nil:
		return nil, fmt.Errorf("connecting to large file annex: %w", err)
	default:
		log.Info("large file annex ready", "bucket", in.lfa.Bucket())
	}

	if url := cfg.ImageServerURL(); url != "" {
		in.images = imageserver.New(url, cfg.GetImageServerTimeout())
		log.Info("image server configured", "url", url)
	}

	hctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	if err = in.healthCheck(hctx); err != nil {
		return nil, fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	return in, nil
}

func (in *infra) onClose(name string, fn func() error) {
	in.closers = append(in.closers, func() {
		in.log.Info("closing " + name)
		if err := fn(); err != nil {
			in.log.Error("error closing "+name, "error", err)
		}
	})
}

// Close releases connections in reverse order of opening.
func (in *infra) Close() {
	for i := len(in.closers) - 1; i >= 0; i-- {
		in.closers[i]()
	}
	in.closers = nil
}

// healthCheck verifies every open connection.
func (in *infra) healthCheck(ctx context.Context) error {
	if err := in.db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := in.mqtt.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if in.influx != nil {
		if err := in.influx.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
