package services

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/quatton/qwatch/pkg/db"
	"github.com/quatton/qwatch/pkg/kv"
	"github.com/quatton/qwatch/pkg/qapi/config"
	"github.com/quatton/qwatch/pkg/qlog"
	"github.com/quatton/qwatch/pkg/qsim"
	"github.com/quatton/qwatch/pkg/qstage"
)

type Services struct {
	Engine  *qsim.Engine
	KV      kv.Store
	DB      *bun.DB
	History *db.History
}

func NewServices(ctx context.Context, cfg *config.EnvConfig, logger *qlog.Logger) (*Services, error) {
	catalog, err := qstage.Lookup(cfg.Variant)
	if err != nil {
		return nil, err
	}

	svcs := &Services{}
	switch cfg.KVBackend {
	case config.KVValkey:
		store, err := kv.NewValkeyStore(kv.ValkeyConfig{
			URL:      cfg.ValkeyURL,
			Addr:     cfg.ValkeyAddr,
			Password: cfg.ValkeyPassword,
			DB:       cfg.ValkeyDB,
		})
		if err != nil {
			return nil, fmt.Errorf("connect valkey: %w", err)
		}
		svcs.KV = store
	default:
		svcs.KV = kv.NewMemoryStore()
	}

	opts := []qsim.Option{
		qsim.WithStageDelay(cfg.StageDelay),
		qsim.WithTTL(cfg.RunTTL),
		qsim.WithLogger(logger),
	}
	if cfg.HistoryEnabled {
		database, err := db.New(ctx, cfg.DB)
		if err != nil {
			_ = svcs.KV.Close()
			return nil, fmt.Errorf("connect history database: %w", err)
		}
		if err := db.Migrate(ctx, database, logger); err != nil {
			_ = database.Close()
			_ = svcs.KV.Close()
			return nil, err
		}
		svcs.DB = database
		svcs.History = db.NewHistory(database)
		opts = append(opts, qsim.WithHistory(svcs.History))
	}

	svcs.Engine = qsim.New(catalog, svcs.KV, opts...)
	return svcs, nil
}

// Close releases the backends.
func (s *Services) Close() error {
	var err error
	if s.DB != nil {
		err = s.DB.Close()
	}
	if s.KV != nil {
		if kerr := s.KV.Close(); err == nil {
			err = kerr
		}
	}
	return err
}
