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
	"strconv"
	"sync"

	"github.com/gamedex/gamerec/base/log"
	"github.com/gamedex/gamerec/config"
	"github.com/gamedex/gamerec/master"
	"github.com/gamedex/gamerec/storage/data"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const MaxPerPage = 50

type OnboardingMode string

const (
	PopularMode  OnboardingMode = "popular"
	CulturalMode OnboardingMode = "cultural"
)

func ParseOnboardingMode(s string) (OnboardingMode, error) {
	switch OnboardingMode(s) {
	case "", PopularMode:
		return PopularMode, nil
	case CulturalMode:
		return CulturalMode, nil
	}
	return "", errors.NotValidf("mode %q", s)
}

type SeedGame struct {
	GameId      int64  `json:"game_id"`
	RawgId      *int64 `json:"rawg_id,omitempty"`
	SteamAppId  *int64 `json:"steam_app_id,omitempty"`
	Title       string `json:"title"`
	Image       string `json:"image"`
	Genre       string `json:"genre,omitempty"`
	SteamRating int    `json:"steam_rating"`
	ReviewCount int    `json:"review_count"`
	Metacritic  *int   `json:"metacritic,omitempty"`
}

type Pagination struct {
	CurrentPage int  `json:"current_page"`
	TotalPages  int  `json:"total_pages"`
	PerPage     int  `json:"per_page"`
	Total       int  `json:"total"`
	HasPrev     bool `json:"has_prev"`
	HasNext     bool `json:"has_next"`
}

type OnboardingStep struct {
	Name        string `json:"name"`
	Genre       string `json:"genre"`
	Description string `json:"description"`
}

// PagedSeed is a page of games to rate during onboarding.
type PagedSeed struct {
	Games      []SeedGame     `json:"games"`
	Pagination Pagination     `json:"pagination"`
	Step       OnboardingStep `json:"step"`
	Mode       OnboardingMode `json:"mode"`
}

// OnboardingStatusView summarizes the onboarding progress of a user. Ratings
// are keyed by RAWG id, or by local reference for games without one.
type OnboardingStatusView struct {
	Status          data.OnboardingStatus `json:"status"`
	TotalRatings    int                   `json:"total_ratings"`
	NeedsOnboarding bool                  `json:"needs_onboarding"`
	Ratings         map[string]data.Score `json:"ratings"`
}

// OnboardingController drives the first ratings of a user.
type OnboardingController struct {
	cfg        config.OnboardingConfig
	dataClient data.Database
	seed       *SeedCatalog
	cultural   *CulturalCatalog
	// Rebuild recalculates similarities after a completed onboarding. Nil disables it.
	Rebuild func(ctx context.Context) error
	wg      sync.WaitGroup
}

func NewOnboardingController(cfg config.OnboardingConfig, dataClient data.Database, seed *SeedCatalog, cultural *CulturalCatalog) *OnboardingController {
	return &OnboardingController{
		cfg:        cfg,
		dataClient: dataClient,
		seed:       seed,
		cultural:   cultural,
	}
}

// FetchPage returns a page of the catalog without the games the user already rated.
func (c *OnboardingController) FetchPage(ctx context.Context, userId string, page, perPage int, mode OnboardingMode) (*PagedSeed, error) {
	if perPage == 0 {
		perPage = c.cfg.PerPage
	}
	if perPage < 1 || perPage > MaxPerPage {
		return nil, errors.NotValidf("per_page %d (must be between 1 and %d)", perPage, MaxPerPage)
	}

	var (
		catalog []data.Game
		step    OnboardingStep
		err     error
	)
	switch mode {
	case PopularMode:
		catalog = c.seed.Games()
		step = OnboardingStep{
			Name:        "Popular games",
			Genre:       "popular",
			Description: "Widely reviewed games. Rate the ones you know!",
		}
	case CulturalMode:
		if catalog, err = c.cultural.Games(ctx); err != nil {
			return nil, errors.Trace(err)
		}
		step = OnboardingStep{
			Name:        "Local favorites",
			Genre:       c.cfg.CulturalTag,
			Description: "Games loved by players around you. Rate the ones you know!",
		}
	default:
		return nil, errors.NotValidf("mode %q", mode)
	}

	// exclude before paginating so every page is full
	rated, err := c.dataClient.RatedGameIds(ctx, userId)
	if err != nil {
		return nil, errors.Trace(err)
	}
	remaining := lo.Filter(catalog, func(game data.Game, _ int) bool {
		return !rated.Contains(game.GameId)
	})

	total := len(remaining)
	totalPages := max((total+perPage-1)/perPage, 1)
	page = max(min(page, totalPages), 1)
	begin := min((page-1)*perPage, total)
	end := min(begin+perPage, total)
	return &PagedSeed{
		Games: lo.Map(remaining[begin:end], func(game data.Game, _ int) SeedGame {
			return SeedGame{
				GameId:      game.GameId,
				RawgId:      game.RawgId,
				SteamAppId:  game.SteamAppId,
				Title:       game.Title,
				Image:       GameImage(game),
				Genre:       game.Genre,
				SteamRating: game.SteamRating,
				ReviewCount: game.ReviewCount,
				Metacritic:  game.MetacriticScore,
			}
		}),
		Pagination: Pagination{
			CurrentPage: page,
			TotalPages:  totalPages,
			PerPage:     perPage,
			Total:       total,
			HasPrev:     page > 1,
			HasNext:     page < totalPages,
		},
		Step: step,
		Mode: mode,
	}, nil
}

// RecordRating stores an onboarding rating. Ratings are accepted after the
// onboarding finished, but the state stays terminal.
func (c *OnboardingController) RecordRating(ctx context.Context, userId string, ref GameRef, ordinal float64) (data.Rating, data.OnboardingState, error) {
	return c.Rate(ctx, userId, ref, ordinal, true)
}

// Rate stores a rating. Only onboarding ratings move a user out of not_started.
func (c *OnboardingController) Rate(ctx context.Context, userId string, ref GameRef, ordinal float64, isOnboarding bool) (data.Rating, data.OnboardingState, error) {
	score, err := data.ParseScore(ordinal)
	if err != nil {
		return data.Rating{}, data.OnboardingState{}, err
	}
	game, err := ResolveGame(ctx, c.dataClient, ref)
	if err != nil {
		return data.Rating{}, data.OnboardingState{}, err
	}
	return c.dataClient.UpsertRating(ctx, userId, game.GameId, score, isOnboarding)
}

// Complete finishes or skips the onboarding. Finishing with enough ratings
// triggers a similarity rebuild in the background.
func (c *OnboardingController) Complete(ctx context.Context, userId string, skipped bool) (data.OnboardingState, error) {
	prev, err := c.dataClient.GetOnboardingState(ctx, userId)
	if err != nil {
		return data.OnboardingState{}, errors.Trace(err)
	}
	state, err := c.dataClient.CompleteOnboarding(ctx, userId, skipped)
	if err != nil {
		return data.OnboardingState{}, errors.Trace(err)
	}
	if !skipped && !prev.Status.Terminal() && c.cfg.RecalculateOnComplete && c.Rebuild != nil &&
		state.TotalRatings >= c.cfg.RecalculateMinRatings {
		c.wg.Go(func() {
			err := c.Rebuild(context.Background())
			switch {
			case err == nil:
				log.Logger().Info("rebuild similarity after onboarding", zap.String("user_id", userId))
			case errors.Is(err, master.ErrBatchInProgress), errors.Is(err, master.ErrInsufficientData):
				log.Logger().Info("skip similarity rebuild", zap.String("user_id", userId), zap.Error(err))
			default:
				log.Logger().Error("failed to rebuild similarity", zap.String("user_id", userId), zap.Error(err))
			}
		})
	}
	return state, nil
}

// Wait blocks until background rebuilds finish.
func (c *OnboardingController) Wait() {
	c.wg.Wait()
}

// Status reports whether the user should be asked to rate games.
func (c *OnboardingController) Status(ctx context.Context, userId string) (*OnboardingStatusView, error) {
	state, err := c.dataClient.GetOnboardingState(ctx, userId)
	if err != nil {
		return nil, errors.Trace(err)
	}
	ratings, err := c.dataClient.ListRatings(ctx, userId, false)
	if err != nil {
		return nil, errors.Trace(err)
	}
	games, err := c.dataClient.GetGames(ctx, lo.Map(ratings, func(r data.Rating, _ int) int64 { return r.GameId }))
	if err != nil {
		return nil, errors.Trace(err)
	}
	gameIndex := lo.KeyBy(games, func(g data.Game) int64 { return g.GameId })
	view := &OnboardingStatusView{
		Status:       state.Status,
		TotalRatings: len(ratings),
		Ratings:      make(map[string]data.Score, len(ratings)),
	}
	for _, rating := range ratings {
		key := LocalRef(rating.GameId).String()
		if game, ok := gameIndex[rating.GameId]; ok && game.RawgId != nil {
			key = strconv.FormatInt(*game.RawgId, 10)
		}
		view.Ratings[key] = rating.Score
	}
	view.NeedsOnboarding = !state.Status.Terminal() && view.TotalRatings < c.cfg.NeedsOnboardingRatings
	return view, nil
}
