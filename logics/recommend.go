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
	"math"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gamedex/gamerec/base/log"
	"github.com/gamedex/gamerec/config"
	"github.com/gamedex/gamerec/storage/cache"
	"github.com/gamedex/gamerec/storage/data"
	"github.com/jellydator/ttlcache/v3"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

type Method string

const (
	PopularSeed     Method = "popular_seed"
	PopularFiltered Method = "popular_filtered"
	ItemCF          Method = "item_cf"
	ContentGenre    Method = "content_genre"
	PopularFallback Method = "popular_fallback"

	DefaultRecommendLimit = 50
	MaxRecommendLimit     = 100
)

var messages = map[Method]string{
	PopularSeed:     "Popular games to get you started. Rate a few games to get personal picks.",
	PopularFiltered: "You have not liked any game yet. Give a thumbs up to the games you enjoy!",
	ItemCF:          "Games similar to the ones you liked.",
	ContentGenre:    "Games from the genres you like.",
	PopularFallback: "Popular games you have not rated yet. Rate more games for better picks.",
}

// RecommendedGame is a recommended game with a display score in [0, 100].
type RecommendedGame struct {
	GameId     int64    `json:"game_id"`
	RawgId     *int64   `json:"rawg_id,omitempty"`
	Title      string   `json:"title"`
	Image      string   `json:"image"`
	Genres     []string `json:"genres"`
	Score      float64  `json:"score_0_100"`
	Provenance []string `json:"provenance_tags"`
}

type Recommendation struct {
	Recommendations []RecommendedGame `json:"recommendations"`
	Method          Method            `json:"method"`
	Message         string            `json:"message"`
}

// Recommender picks games for a user from the first tier with enough results.
// It never returns a game the user rated.
type Recommender struct {
	dataClient data.Database
	seed       *SeedCatalog
	itemToItem *ItemToItem
	games      *ttlcache.Cache[int64, data.Game]
}

func NewRecommender(cfg config.RecommendConfig, dataClient data.Database, cacheClient cache.Database, seed *SeedCatalog) *Recommender {
	r := &Recommender{
		dataClient: dataClient,
		seed:       seed,
		itemToItem: NewItemToItem(cacheClient, cfg.MaxRank),
	}
	if cfg.GameCacheTTL > 0 {
		r.games = ttlcache.New(ttlcache.WithTTL[int64, data.Game](cfg.GameCacheTTL))
	}
	return r
}

func (r *Recommender) Recommend(ctx context.Context, userId string, n int) (*Recommendation, error) {
	if n == 0 {
		n = DefaultRecommendLimit
	}
	if n < 0 || n > MaxRecommendLimit {
		return nil, errors.NotValidf("limit %d (must be between 1 and %d)", n, MaxRecommendLimit)
	}
	rated, err := r.dataClient.RatedGameIds(ctx, userId)
	if err != nil {
		return nil, errors.Trace(err)
	}
	enough := func(games []RecommendedGame) bool {
		return len(games) > 0 && len(games) >= n/2
	}

	// no ratings at all
	if rated.Cardinality() == 0 {
		if err = ctx.Err(); err != nil {
			return nil, errors.Trace(err)
		}
		if games := r.popular(PopularSeed, 80, rated, n); len(games) > 0 {
			return newRecommendation(PopularSeed, games), nil
		}
		return newRecommendation(PopularFallback, nil), nil
	}
	liked, err := r.dataClient.LikedGameIds(ctx, userId)
	if err != nil {
		return nil, errors.Trace(err)
	}

	// ratings without a liked game
	if len(liked) == 0 {
		if err = ctx.Err(); err != nil {
			return nil, errors.Trace(err)
		}
		if games := r.popular(PopularFiltered, 75, rated, n); len(games) > 0 {
			return newRecommendation(PopularFiltered, games), nil
		}
	} else {
		if err = ctx.Err(); err != nil {
			return nil, errors.Trace(err)
		}
		games, err := r.recommendItemToItem(ctx, liked, rated, n)
		if err != nil {
			log.Logger().Error("failed to recommend similar games", zap.String("user_id", userId), zap.Error(err))
		} else if enough(games) {
			return newRecommendation(ItemCF, games), nil
		}

		if err = ctx.Err(); err != nil {
			return nil, errors.Trace(err)
		}
		games, err = r.recommendContent(ctx, liked, rated, n)
		if err != nil {
			log.Logger().Error("failed to recommend games by genre", zap.String("user_id", userId), zap.Error(err))
		} else if enough(games) {
			return newRecommendation(ContentGenre, games), nil
		}
	}

	if err = ctx.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	return newRecommendation(PopularFallback, r.popular(PopularFallback, 70, rated, n)), nil
}

func newRecommendation(method Method, games []RecommendedGame) *Recommendation {
	if games == nil {
		games = []RecommendedGame{}
	}
	return &Recommendation{Recommendations: games, Method: method, Message: messages[method]}
}

func (r *Recommender) popular(method Method, base float64, exclude mapset.Set[int64], n int) []RecommendedGame {
	var games []RecommendedGame
	for _, game := range r.seed.Games() {
		if len(games) >= n {
			break
		}
		if exclude.Contains(game.GameId) {
			continue
		}
		score := base + float64(game.SteamRating)/5 - float64(len(games))*0.3
		games = append(games, newRecommendedGame(game, clampScore(score, 50), string(method)))
	}
	return games
}

func (r *Recommender) recommendItemToItem(ctx context.Context, liked map[int64]data.Score, exclude mapset.Set[int64], n int) ([]RecommendedGame, error) {
	scored, err := r.itemToItem.Recommend(ctx, liked, exclude, n)
	if err != nil {
		return nil, errors.Trace(err)
	}
	games, err := r.getGames(ctx, lo.Map(scored, func(s ScoredGame, _ int) int64 { return s.GameId }))
	if err != nil {
		return nil, errors.Trace(err)
	}
	result := make([]RecommendedGame, 0, len(scored))
	for _, s := range scored {
		// games deleted since the snapshot was built are skipped
		game, exist := games[s.GameId]
		if !exist {
			continue
		}
		result = append(result, newRecommendedGame(game, clampScore(s.Score*100, 0),
			string(ItemCF), "similar:"+strconv.FormatInt(s.Anchor, 10)))
	}
	return result, nil
}

func (r *Recommender) recommendContent(ctx context.Context, liked map[int64]data.Score, exclude mapset.Set[int64], n int) ([]RecommendedGame, error) {
	likedGames, err := r.getGames(ctx, lo.Keys(liked))
	if err != nil {
		return nil, errors.Trace(err)
	}
	genres := mapset.NewThreadUnsafeSet[string]()
	for _, game := range likedGames {
		for _, genre := range game.Genres() {
			genres.Add(strings.ToLower(genre))
		}
	}
	if genres.Cardinality() == 0 {
		return nil, nil
	}
	candidates, err := r.dataClient.SearchGamesByGenres(ctx, genres.ToSlice(), exclude, n)
	if err != nil {
		return nil, errors.Trace(err)
	}
	result := make([]RecommendedGame, 0, len(candidates))
	for i, game := range candidates {
		score := 75 + float64(lo.FromPtr(game.MetacriticScore))/5 - float64(i)*0.5
		tags := []string{string(ContentGenre)}
		if genre, found := lo.Find(game.Genres(), func(g string) bool {
			return genres.Contains(strings.ToLower(g))
		}); found {
			tags = append(tags, "genre:"+genre)
		}
		result = append(result, newRecommendedGame(game, clampScore(score, 50), tags...))
	}
	return result, nil
}

// getGames loads games through the game cache. Missing games are left out.
func (r *Recommender) getGames(ctx context.Context, gameIds []int64) (map[int64]data.Game, error) {
	games := make(map[int64]data.Game, len(gameIds))
	var missing []int64
	for _, gameId := range gameIds {
		if r.games != nil {
			if item := r.games.Get(gameId); item != nil {
				games[gameId] = item.Value()
				continue
			}
		}
		missing = append(missing, gameId)
	}
	if len(missing) == 0 {
		return games, nil
	}
	loaded, err := r.dataClient.GetGames(ctx, missing)
	if err != nil {
		return nil, errors.Trace(err)
	}
	for _, game := range loaded {
		games[game.GameId] = game
		if r.games != nil {
			r.games.Set(game.GameId, game, ttlcache.DefaultTTL)
		}
	}
	return games, nil
}

func newRecommendedGame(game data.Game, score float64, provenance ...string) RecommendedGame {
	genres := game.Genres()
	if genres == nil {
		genres = []string{}
	}
	return RecommendedGame{
		GameId:     game.GameId,
		RawgId:     game.RawgId,
		Title:      game.Title,
		Image:      GameImage(game),
		Genres:     genres,
		Score:      score,
		Provenance: provenance,
	}
}

// clampScore bounds a display score to [lower, 100] with one decimal.
func clampScore(score, lower float64) float64 {
	return math.Round(math.Max(lower, math.Min(100, score))*10) / 10
}
