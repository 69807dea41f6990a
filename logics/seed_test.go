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
	"path/filepath"

	"github.com/gamedex/gamerec/storage/data"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

func (suite *LogicsTestSuite) TestSeedCatalog() {
	ctx := context.Background()
	suite.config.Onboarding.SeedSize = 3
	seed, err := NewSeedCatalog(suite.config.Onboarding, suite.dataClient)
	suite.NoError(err)
	suite.Empty(seed.Games())
	suite.True(seed.Snapshot().LoadedAt.IsZero())

	err = seed.Load(ctx, []SeedEntry{
		{Title: "Few reviews", RawgId: 1, SteamRating: 95, ReviewCount: 100},
		{Title: "Low rating", RawgId: 2, SteamRating: 60, ReviewCount: 90000},
		{Title: "Third", RawgId: 3, SteamRating: 80, ReviewCount: 1000},
		{Title: "First", RawgId: 4, SteamRating: 90, ReviewCount: 50000, MetacriticScore: lo.ToPtr(88)},
		{Title: "Steam only", SteamAppId: 570, SteamRating: 85, ReviewCount: 20000},
		{Title: "Fourth", RawgId: 6, SteamRating: 75, ReviewCount: 500},
		{Title: "No id", SteamRating: 99, ReviewCount: 99999},
	})
	suite.NoError(err)
	games := seed.Games()
	suite.Equal([]string{"First", "Steam only", "Third"}, lo.Map(games, func(g data.Game, _ int) string { return g.Title }))
	for _, game := range games {
		suite.NotZero(game.GameId)
	}
	suite.Equal(int64(570), *games[1].RawgId)
	suite.Equal(int64(570), *games[1].SteamAppId)
	suite.Equal(88, *games[0].MetacriticScore)
	suite.False(seed.Snapshot().LoadedAt.IsZero())

	// reloading keeps local ids
	err = seed.Load(ctx, []SeedEntry{{Title: "First (GOTY)", RawgId: 4, SteamRating: 91, ReviewCount: 60000}})
	suite.NoError(err)
	suite.Len(seed.Games(), 1)
	suite.Equal(games[0].GameId, seed.Games()[0].GameId)
	suite.Equal("First (GOTY)", seed.Games()[0].Title)
}

func (suite *LogicsTestSuite) TestSeedExpressions() {
	suite.config.Onboarding.SeedFilter = "game.MetacriticScore != nil"
	suite.config.Onboarding.SeedSort = "game.SteamRating"
	seed, err := NewSeedCatalog(suite.config.Onboarding, suite.dataClient)
	suite.NoError(err)
	err = seed.Load(context.Background(), []SeedEntry{
		{Title: "A", RawgId: 1, SteamRating: 70, MetacriticScore: lo.ToPtr(70)},
		{Title: "B", RawgId: 2, SteamRating: 90, MetacriticScore: lo.ToPtr(60)},
		{Title: "C", RawgId: 3, SteamRating: 99},
	})
	suite.NoError(err)
	suite.Equal([]string{"B", "A"}, lo.Map(seed.Games(), func(g data.Game, _ int) string { return g.Title }))

	suite.config.Onboarding.SeedFilter = "game.ReviewCount"
	_, err = NewSeedCatalog(suite.config.Onboarding, suite.dataClient)
	suite.True(errors.Is(err, errors.NotValid))
	suite.config.Onboarding.SeedFilter = "true"
	suite.config.Onboarding.SeedSort = "game.Title"
	_, err = NewSeedCatalog(suite.config.Onboarding, suite.dataClient)
	suite.True(errors.Is(err, errors.NotValid))
	suite.config.Onboarding.SeedSort = "game.Unknown"
	_, err = NewSeedCatalog(suite.config.Onboarding, suite.dataClient)
	suite.Error(err)
}

func (suite *LogicsTestSuite) TestSeedReload() {
	ctx := context.Background()
	path := filepath.Join(suite.T().TempDir(), "seed.json")
	suite.config.Onboarding.SeedPath = path
	seed, err := NewSeedCatalog(suite.config.Onboarding, suite.dataClient)
	suite.NoError(err)

	// missing file keeps the empty snapshot
	suite.Error(seed.Reload(ctx))
	suite.Empty(seed.Games())

	buf, err := json.Marshal(seedEntries(5))
	suite.NoError(err)
	suite.NoError(os.WriteFile(path, buf, 0o644))
	suite.NoError(seed.Reload(ctx))
	suite.Len(seed.Games(), 5)
	suite.Equal("Popular 0", seed.Games()[0].Title)

	// broken file keeps the previous snapshot
	suite.NoError(os.WriteFile(path, []byte("{"), 0o644))
	suite.Error(seed.Reload(ctx))
	suite.Len(seed.Games(), 5)

	// no path means an empty feed
	suite.config.Onboarding.SeedPath = ""
	seed, err = NewSeedCatalog(suite.config.Onboarding, suite.dataClient)
	suite.NoError(err)
	suite.NoError(seed.Reload(ctx))
	suite.Empty(seed.Games())
}
