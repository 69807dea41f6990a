// Copyright 2026 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/emicklei/go-restful/v3"
	"github.com/gamedex/gamerec/base/log"
	"github.com/gamedex/gamerec/config"
	"github.com/gamedex/gamerec/logics"
	"github.com/gamedex/gamerec/master"
	"github.com/gamedex/gamerec/storage/cache"
	"github.com/gamedex/gamerec/storage/data"
	"github.com/gamedex/gamerec/storage/meta"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// Server owns the stores and the services behind the REST API.
type Server struct {
	RestServer
	MetaClient meta.Locker
}

// NewServer connects the stores and loads the seed catalog. A missing or
// broken seed feed leaves the catalog empty.
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	s := &Server{RestServer: RestServer{
		Config:     cfg,
		WebService: new(restful.WebService),
	}}
	var err error
	if s.DataClient, err = data.Open(cfg.Database.DataStore, cfg.Database.DataTablePrefix, cfg.Database.SQLOptions()...); err != nil {
		return nil, errors.Annotate(err, "failed to connect data store")
	}
	if err = initStore(ctx, "data", s.DataClient.Init); err != nil {
		return nil, errors.Annotate(err, "failed to init data store")
	}
	if s.CacheClient, err = cache.Open(cfg.Database.CacheStore, cfg.Database.CacheTablePrefix, cfg.Database.SQLOptions()...); err != nil {
		return nil, errors.Annotate(err, "failed to connect cache store")
	}
	if err = initStore(ctx, "cache", s.CacheClient.Init); err != nil {
		return nil, errors.Annotate(err, "failed to init cache store")
	}
	if s.MetaClient, err = meta.Open(cfg.Database.MetaStore, cfg.Database.CacheTablePrefix, cfg.Database.SQLOptions()...); err != nil {
		return nil, errors.Annotate(err, "failed to connect meta store")
	}
	if err = initStore(ctx, "meta", s.MetaClient.Init); err != nil {
		return nil, errors.Annotate(err, "failed to init meta store")
	}

	if s.Seed, err = logics.NewSeedCatalog(cfg.Onboarding, s.DataClient); err != nil {
		return nil, errors.Trace(err)
	}
	if err = s.Seed.Reload(ctx); err != nil {
		log.Logger().Error("failed to load seed catalog", zap.String("path", cfg.Onboarding.SeedPath), zap.Error(err))
	}
	s.Cultural = logics.NewCulturalCatalog(cfg.Onboarding, s.DataClient)
	s.Onboarding = logics.NewOnboardingController(cfg.Onboarding, s.DataClient, s.Seed, s.Cultural)
	s.Onboarding.Rebuild = s.rebuild
	s.Recommender = logics.NewRecommender(cfg.Recommend, s.DataClient, s.CacheClient, s.Seed)
	return s, nil
}

const storeInitTimeout = time.Minute

// initStore retries schema initialization while the database is coming up.
func initStore(ctx context.Context, name string, fn func() error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, fn()
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(storeInitTimeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Logger().Warn("failed to init store", zap.String("store", name),
				zap.Duration("retry_after", next), zap.Error(err))
		}))
	return err
}

func (s *Server) rebuild(ctx context.Context) error {
	builder := master.NewSimilarityBuilder(s.DataClient, s.CacheClient, s.MetaClient, s.Config.Similarity)
	_, err := builder.Build(ctx)
	return err
}

// Serve blocks until the server is shut down.
func (s *Server) Serve() {
	log.Logger().Info("start server",
		zap.String("host", s.Config.Server.Host),
		zap.Int("port", s.Config.Server.Port),
		zap.Int("seed_games", len(s.Seed.Games())))
	s.StartHttpServer(restful.NewContainer())
}

// Shutdown stops accepting requests, waits for background rebuilds and closes the stores.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.HttpServer != nil {
		if err := s.HttpServer.Shutdown(ctx); err != nil {
			return errors.Trace(err)
		}
	}
	s.Onboarding.Wait()
	if err := s.DataClient.Close(); err != nil {
		return errors.Trace(err)
	}
	if err := s.CacheClient.Close(); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(s.MetaClient.Close())
}
