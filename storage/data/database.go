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

package data

import (
	"context"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gamedex/gamerec/storage"
	"github.com/juju/errors"
)

var (
	ErrGameNotExist   = errors.NotFoundf("game")
	ErrRatingNotExist = errors.NotFoundf("rating")
	ErrNoDatabase     = errors.NotAssignedf("database")
)

// Game is a catalog entry. GameId is the local identifier, RawgId the external one.
type Game struct {
	GameId          int64     `gorm:"column:game_id;primaryKey;autoIncrement" json:"game_id"`
	RawgId          *int64    `gorm:"column:rawg_id;uniqueIndex" json:"rawg_id,omitempty"`
	SteamAppId      *int64    `gorm:"column:steam_app_id;index" json:"steam_app_id,omitempty"`
	Title           string    `gorm:"column:title;size:512;not null" json:"title"`
	Genre           string    `gorm:"column:genre;size:512;not null" json:"genre"`
	Tags            string    `gorm:"column:tags;size:1024;not null" json:"tags"`
	ImageURL        string    `gorm:"column:image_url;size:1024;not null" json:"image_url"`
	BackgroundImage string    `gorm:"column:background_image;size:1024;not null" json:"background_image"`
	MetacriticScore *int      `gorm:"column:metacritic_score" json:"metacritic,omitempty"`
	SteamRating     int       `gorm:"column:steam_rating;not null" json:"steam_rating"`
	ReviewCount     int       `gorm:"column:review_count;not null" json:"review_count"`
	CreatedAt       time.Time `gorm:"column:created_at;not null" json:"-"`
}

// Genres splits the comma separated genre string.
func (g *Game) Genres() []string {
	var genres []string
	for _, genre := range strings.Split(g.Genre, ",") {
		if genre = strings.TrimSpace(genre); genre != "" {
			genres = append(genres, genre)
		}
	}
	return genres
}

// HasTag reports whether the comma separated tags contain a slug.
func (g *Game) HasTag(slug string) bool {
	for _, tag := range strings.Split(g.Tags, ",") {
		if strings.EqualFold(strings.TrimSpace(tag), slug) {
			return true
		}
	}
	return false
}

// Rating is the explicit feedback of a user on a game.
type Rating struct {
	Id           int64     `gorm:"column:id;primaryKey;autoIncrement" json:"-"`
	UserId       string    `gorm:"column:user_id;size:256;not null;uniqueIndex:idx_rating_user_game,priority:1" json:"user_id"`
	GameId       int64     `gorm:"column:game_id;not null;uniqueIndex:idx_rating_user_game,priority:2;index" json:"game_id"`
	Score        Score     `gorm:"column:score;type:smallint;not null" json:"score"`
	IsOnboarding bool      `gorm:"column:is_onboarding;not null" json:"is_onboarding"`
	CreatedAt    time.Time `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

type OnboardingStatus string

const (
	NotStarted OnboardingStatus = "not_started"
	InProgress OnboardingStatus = "in_progress"
	Completed  OnboardingStatus = "completed"
	Skipped    OnboardingStatus = "skipped"
)

// Terminal reports whether the status is absorbing.
func (s OnboardingStatus) Terminal() bool {
	return s == Completed || s == Skipped
}

// OnboardingState tracks the onboarding progress of a user.
type OnboardingState struct {
	UserId       string           `gorm:"column:user_id;primaryKey;size:256" json:"user_id"`
	Status       OnboardingStatus `gorm:"column:status;size:16;not null" json:"status"`
	TotalRatings int              `gorm:"column:total_ratings;not null" json:"total_ratings"`
	StartedAt    *time.Time       `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt  *time.Time       `gorm:"column:completed_at" json:"completed_at,omitempty"`
}

// Database is the store of games, ratings and onboarding states.
type Database interface {
	Init() error
	Ping() error
	Close() error
	Purge() error

	// games
	InsertGames(ctx context.Context, games []Game) ([]Game, error)
	GetGame(ctx context.Context, gameId int64) (Game, error)
	GetGames(ctx context.Context, gameIds []int64) ([]Game, error)
	FindGameByRawgId(ctx context.Context, rawgId int64) (Game, error)
	EnsureStubGame(ctx context.Context, rawgId int64) (Game, error)
	UpsertExternalGames(ctx context.Context, games []Game) ([]Game, error)
	SearchGamesByGenres(ctx context.Context, genres []string, exclude mapset.Set[int64], n int) ([]Game, error)
	ListCulturalGames(ctx context.Context, tag string, titlePatterns []string) ([]Game, error)

	// ratings
	UpsertRating(ctx context.Context, userId string, gameId int64, score Score, isOnboarding bool) (Rating, OnboardingState, error)
	GetRating(ctx context.Context, userId string, gameId int64) (Rating, error)
	ListRatings(ctx context.Context, userId string, excludeSkip bool) ([]Rating, error)
	LikedGameIds(ctx context.Context, userId string) (map[int64]Score, error)
	RatedGameIds(ctx context.Context, userId string) (mapset.Set[int64], error)
	ScanPositiveRatings(ctx context.Context, batchSize int, fn func([]Rating) error) error

	// onboarding
	GetOnboardingState(ctx context.Context, userId string) (OnboardingState, error)
	CompleteOnboarding(ctx context.Context, userId string, skipped bool) (OnboardingState, error)
}

// Open a connection to a SQL data store.
func Open(path, tablePrefix string, opts ...storage.Option) (Database, error) {
	conn, err := storage.OpenSQL(path, tablePrefix, opts...)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &SQLDatabase{
		TablePrefix: storage.TablePrefix(tablePrefix),
		conn:        conn,
		gormDB:      conn.Gorm,
		driver:      conn.Driver,
	}, nil
}
