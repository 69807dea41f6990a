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
	"fmt"
	"sort"
	"strings"

	"github.com/gamedex/gamerec/config"
	"github.com/gamedex/gamerec/storage/data"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/atomic"
)

const steamHeaderURL = "https://cdn.akamai.steamstatic.com/steam/apps/%d/header.jpg"

// GameImage picks the first usable image of a game. Games from Steam fall back
// to the store header image.
func GameImage(game data.Game) string {
	if game.BackgroundImage != "" {
		return game.BackgroundImage
	}
	if game.ImageURL != "" {
		return game.ImageURL
	}
	if game.SteamAppId != nil && *game.SteamAppId > 0 {
		return fmt.Sprintf(steamHeaderURL, *game.SteamAppId)
	}
	return ""
}

// titleKey folds editions of the same game together: "Lost Ark (KR)" and
// "lost ark" share a key.
func titleKey(title string) string {
	if i := strings.Index(title, " ("); i >= 0 {
		title = title[:i]
	}
	return strings.ToLower(strings.TrimSpace(title))
}

// CulturalCatalog lists region-curated games. The list is computed on first
// use and kept until Invalidate.
type CulturalCatalog struct {
	cfg        config.OnboardingConfig
	dataClient data.Database
	games      atomic.Pointer[[]data.Game]
}

func NewCulturalCatalog(cfg config.OnboardingConfig, dataClient data.Database) *CulturalCatalog {
	return &CulturalCatalog{cfg: cfg, dataClient: dataClient}
}

// Invalidate drops the cached list.
func (c *CulturalCatalog) Invalidate() {
	c.games.Store(nil)
}

// Games returns curated games with an image, newest RAWG entries first.
func (c *CulturalCatalog) Games(ctx context.Context) ([]data.Game, error) {
	if games := c.games.Load(); games != nil {
		return *games, nil
	}
	candidates, err := c.dataClient.ListCulturalGames(ctx, c.cfg.CulturalTag, c.cfg.CulturalTitlePatterns)
	if err != nil {
		return nil, errors.Trace(err)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if ra, rb := lo.FromPtrOr(a.RawgId, -1), lo.FromPtrOr(b.RawgId, -1); ra != rb {
			return ra > rb
		}
		if ma, mb := lo.FromPtrOr(a.MetacriticScore, -1), lo.FromPtrOr(b.MetacriticScore, -1); ma != mb {
			return ma > mb
		}
		return a.GameId < b.GameId
	})
	games := make([]data.Game, 0, len(candidates))
	seen := make(map[string]struct{})
	for _, game := range candidates {
		image := GameImage(game)
		if image == "" {
			continue
		}
		key := titleKey(game.Title)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		game.ImageURL = image
		games = append(games, game)
	}
	c.games.Store(&games)
	return games, nil
}
