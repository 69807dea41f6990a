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

package logics

import (
	"context"
	"encoding/json"
	"os"
	"reflect"
	"sort"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/gamedex/gamerec/base/log"
	"github.com/gamedex/gamerec/config"
	"github.com/gamedex/gamerec/storage/data"
	"github.com/juju/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// SeedEntry is a game of the popularity feed.
type SeedEntry struct {
	Title           string `json:"title"`
	RawgId          int64  `json:"rawg_id"`
	RawgSlug        string `json:"rawg_slug"`
	SteamAppId      int64  `json:"steam_app_id"`
	Thumbnail       string `json:"thumbnail"`
	SteamRating     int    `json:"steam_rating"`
	ReviewCount     int    `json:"review_count"`
	MetacriticScore *int   `json:"metacritic_score"`
}

// SeedSnapshot is an immutable view of the popularity feed. Every game has a local id.
type SeedSnapshot struct {
	Games    []data.Game
	LoadedAt time.Time
}

var emptySnapshot = &SeedSnapshot{}

// SeedCatalog holds the current popularity snapshot. Reads never block and
// Reload replaces the snapshot as a whole.
type SeedCatalog struct {
	cfg        config.OnboardingConfig
	dataClient data.Database
	filterFunc *vm.Program
	sortFunc   *vm.Program
	snapshot   atomic.Pointer[SeedSnapshot]
}

func NewSeedCatalog(cfg config.OnboardingConfig, dataClient data.Database) (*SeedCatalog, error) {
	env := expr.Env(map[string]any{"game": SeedEntry{}})
	filterFunc, err := expr.Compile(cfg.SeedFilter, env)
	if err != nil {
		return nil, errors.Annotate(err, "failed to compile seed filter")
	}
	if filterFunc.Node().Type().Kind() != reflect.Bool {
		return nil, errors.NotValidf("seed filter %q (must return bool)", cfg.SeedFilter)
	}
	sortFunc, err := expr.Compile(cfg.SeedSort, env)
	if err != nil {
		return nil, errors.Annotate(err, "failed to compile seed sort")
	}
	switch sortFunc.Node().Type().Kind() {
	case reflect.Float64, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
	default:
		return nil, errors.NotValidf("seed sort %q (must return a number)", cfg.SeedSort)
	}
	catalog := &SeedCatalog{
		cfg:        cfg,
		dataClient: dataClient,
		filterFunc: filterFunc,
		sortFunc:   sortFunc,
	}
	catalog.snapshot.Store(emptySnapshot)
	return catalog, nil
}

// Snapshot returns the current snapshot. It is empty before the first load.
func (c *SeedCatalog) Snapshot() *SeedSnapshot {
	return c.snapshot.Load()
}

// Games returns the seed games in popularity order.
func (c *SeedCatalog) Games() []data.Game {
	return c.snapshot.Load().Games
}

// Reload reads the feed from the configured path and swaps the snapshot. On
// failure the previous snapshot is kept.
func (c *SeedCatalog) Reload(ctx context.Context) error {
	if c.cfg.SeedPath == "" {
		log.Logger().Warn("seed path is not set, popularity feed is empty")
		return nil
	}
	f, err := os.Open(c.cfg.SeedPath)
	if err != nil {
		return errors.Trace(err)
	}
	defer f.Close()
	var entries []SeedEntry
	if err = json.NewDecoder(f).Decode(&entries); err != nil {
		return errors.Annotatef(err, "failed to decode %s", c.cfg.SeedPath)
	}
	return c.Load(ctx, entries)
}

// Load filters, sorts and truncates feed entries, stores them as games and
// swaps the snapshot.
func (c *SeedCatalog) Load(ctx context.Context, entries []SeedEntry) error {
	type scored struct {
		entry SeedEntry
		score float64
	}
	candidates := make([]scored, 0, len(entries))
	seen := make(map[int64]struct{})
	for _, entry := range entries {
		// the feed may lack a RAWG id, the Steam app id stands in for it
		if entry.RawgId <= 0 {
			entry.RawgId = entry.SteamAppId
		}
		if entry.RawgId <= 0 || entry.Title == "" {
			continue
		}
		if _, dup := seen[entry.RawgId]; dup {
			continue
		}
		env := map[string]any{"game": entry}
		keep, err := expr.Run(c.filterFunc, env)
		if err != nil {
			return errors.Annotatef(err, "failed to filter %s", entry.Title)
		}
		if !keep.(bool) {
			continue
		}
		score, err := expr.Run(c.sortFunc, env)
		if err != nil {
			return errors.Annotatef(err, "failed to sort %s", entry.Title)
		}
		seen[entry.RawgId] = struct{}{}
		candidates = append(candidates, scored{entry: entry, score: reflect.ValueOf(score).Convert(reflect.TypeOf(float64(0))).Float()})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > c.cfg.SeedSize {
		candidates = candidates[:c.cfg.SeedSize]
	}

	games := make([]data.Game, len(candidates))
	for i, candidate := range candidates {
		entry := candidate.entry
		games[i] = data.Game{
			RawgId:          &entry.RawgId,
			Title:           entry.Title,
			ImageURL:        entry.Thumbnail,
			MetacriticScore: entry.MetacriticScore,
			SteamRating:     entry.SteamRating,
			ReviewCount:     entry.ReviewCount,
		}
		if entry.SteamAppId > 0 {
			games[i].SteamAppId = &entry.SteamAppId
		}
	}
	games, err := c.dataClient.UpsertExternalGames(ctx, games)
	if err != nil {
		return errors.Annotate(err, "failed to store seed games")
	}
	c.snapshot.Store(&SeedSnapshot{Games: games, LoadedAt: time.Now()})
	log.Logger().Info("load popularity feed",
		zap.Int("n_entries", len(entries)), zap.Int("n_games", len(games)))
	return nil
}
