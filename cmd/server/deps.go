package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/twmb/franz-go/pkg/kgo"

	"mismobridge/internal/mapping"
	"mismobridge/internal/pack"
	"mismobridge/internal/pipeline/ports"
	"mismobridge/internal/pipeline/store/quarantine"
	"mismobridge/internal/pipeline/store/report"
	"mismobridge/internal/pipeline/store/sink"
	"mismobridge/internal/platform/config"
	"mismobridge/internal/platform/metrics"
	redisclient "mismobridge/internal/platform/redis"
	"mismobridge/pkg/platform/audit"
	auditpublisher "mismobridge/pkg/platform/audit/publisher"
	auditkafka "mismobridge/pkg/platform/audit/store/kafka"
	auditmemory "mismobridge/pkg/platform/audit/store/memory"
	auditpostgres "mismobridge/pkg/platform/audit/store/postgres"
)

const connectTimeout = 10 * time.Second

// loadDefinitions reads packs and mapping tables from the configured
// directories, falling back to the copies compiled into the binary.
func loadDefinitions(cfg config.Server) (*pack.Registry, *mapping.Table, error) {
	var (
		packs *pack.Registry
		table *mapping.Table
		err   error
	)
	if cfg.PackDir != "" {
		packs, err = pack.Load(os.DirFS(cfg.PackDir))
	} else {
		packs, err = pack.Default()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("packs: %w", err)
	}
	if cfg.MappingDir != "" {
		table, err = mapping.Load(os.DirFS(cfg.MappingDir))
	} else {
		table, err = mapping.Default()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("mapping: %w", err)
	}
	return packs, table, nil
}

// infrastructure holds the optional backends selected by configuration.
// Unconfigured backends fall back to in-process memory.
type infrastructure struct {
	reports    ports.ReportStore
	quarantine ports.QuarantineStore
	publisher  *auditpublisher.Publisher
	sink       ports.RecordSink

	db    *sql.DB
	redis *redisclient.Client
	kafka *kgo.Client
}

func connect(ctx context.Context, cfg config.Server, log *slog.Logger, m *metrics.Metrics) (*infrastructure, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	infra := &infrastructure{}
	fail := func(err error) (*infrastructure, error) {
		infra.Close()
		return nil, err
	}

	var auditStore audit.Store = auditmemory.NewInMemoryStore()
	reports := ports.ReportStore(report.NewInMemory())
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return fail(fmt.Errorf("open postgres: %w", err))
		}
		infra.db = db
		if err := db.PingContext(ctx); err != nil {
			return fail(fmt.Errorf("ping postgres: %w", err))
		}
		pgReports := report.NewPostgres(db)
		if err := pgReports.Migrate(ctx); err != nil {
			return fail(err)
		}
		pgAudit := auditpostgres.New(db)
		if err := pgAudit.Migrate(ctx); err != nil {
			return fail(err)
		}
		reports, auditStore = pgReports, pgAudit
		log.Info("postgres report store enabled")
	}
	infra.reports = reports

	infra.quarantine = quarantine.NewInMemory(cfg.Redis.QuarantineTTL)
	rc, err := redisclient.New(ctx, cfg.Redis)
	if err != nil {
		return fail(err)
	}
	if rc != nil {
		infra.redis = rc
		infra.quarantine = quarantine.NewRedis(rc.Client, quarantine.WithTTL(cfg.Redis.QuarantineTTL))
		log.Info("redis quarantine store enabled", "ttl", cfg.Redis.QuarantineTTL.String())
	}

	if len(cfg.KafkaBrokers) > 0 {
		client, err := auditkafka.NewClient(cfg.KafkaBrokers)
		if err != nil {
			return fail(err)
		}
		infra.kafka = client
		auditStore = auditkafka.New(client, cfg.AuditTopic)
		log.Info("kafka audit sink enabled", "topic", cfg.AuditTopic, "brokers", cfg.KafkaBrokers)
	}
	infra.publisher = auditpublisher.NewPublisher(auditStore,
		auditpublisher.WithAsyncBuffer(cfg.AuditBuffer),
		auditpublisher.WithLogger(log),
		auditpublisher.WithMetrics(auditpublisher.NewMetrics(m.Registry)),
		auditpublisher.WithCircuitBreaker(auditpublisher.NewCircuitBreaker(5, 30*time.Second)),
	)

	if cfg.SinkDir != "" {
		fs, err := sink.NewFileSink(cfg.SinkDir)
		if err != nil {
			return fail(err)
		}
		infra.sink = fs
	}
	return infra, nil
}

// Health pings every configured backend.
func (i *infrastructure) Health(ctx context.Context) error {
	var errs []error
	if i.db != nil {
		if err := i.db.PingContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres: %w", err))
		}
	}
	if i.redis != nil {
		if err := i.redis.Health(ctx); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if i.kafka != nil {
		if err := i.kafka.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("kafka: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close drains the audit buffer before closing the backends it writes to.
func (i *infrastructure) Close() {
	if i.publisher != nil {
		i.publisher.Close()
	}
	if i.kafka != nil {
		i.kafka.Close()
	}
	if i.redis != nil {
		_ = i.redis.Close()
	}
	if i.db != nil {
		_ = i.db.Close()
	}
}
