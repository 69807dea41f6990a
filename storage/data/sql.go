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
	"database/sql"
	"fmt"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gamedex/gamerec/storage"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQLDatabase stores games, ratings and onboarding states in MySQL, Postgres or SQLite.
type SQLDatabase struct {
	storage.TablePrefix
	conn   *storage.SQLConn
	gormDB *gorm.DB
	driver storage.SQLDriver
}

// Init tables and indices.
func (d *SQLDatabase) Init() error {
	if err := d.gormDB.Table(d.GamesTable()).AutoMigrate(&Game{}); err != nil {
		return errors.Trace(err)
	}
	if err := d.gormDB.Table(d.RatingsTable()).AutoMigrate(&Rating{}); err != nil {
		return errors.Trace(err)
	}
	if err := d.gormDB.Table(d.OnboardingTable()).AutoMigrate(&OnboardingState{}); err != nil {
		return errors.Trace(err)
	}
	return nil
}

func (d *SQLDatabase) Ping() error {
	return d.conn.Client.Ping()
}

func (d *SQLDatabase) Close() error {
	return d.conn.Close()
}

// Purge deletes all rows. It is used by tests.
func (d *SQLDatabase) Purge() error {
	for _, table := range []string{d.RatingsTable(), d.OnboardingTable(), d.GamesTable()} {
		if err := d.gormDB.Exec(fmt.Sprintf("DELETE FROM %s", table)).Error; err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// InsertGames inserts games and returns them with assigned identifiers.
func (d *SQLDatabase) InsertGames(ctx context.Context, games []Game) ([]Game, error) {
	if len(games) == 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	for i := range games {
		if games[i].CreatedAt.IsZero() {
			games[i].CreatedAt = now
		}
	}
	if err := d.gormDB.WithContext(ctx).Table(d.GamesTable()).Create(&games).Error; err != nil {
		return nil, errors.Trace(err)
	}
	return games, nil
}

func (d *SQLDatabase) GetGame(ctx context.Context, gameId int64) (Game, error) {
	var game Game
	err := d.gormDB.WithContext(ctx).Table(d.GamesTable()).Where("game_id = ?", gameId).Take(&game).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Game{}, errors.NotFoundf("game %d", gameId)
	} else if err != nil {
		return Game{}, errors.Trace(err)
	}
	return game, nil
}

// GetGames returns existing games in the order of gameIds. Missing games are skipped.
func (d *SQLDatabase) GetGames(ctx context.Context, gameIds []int64) ([]Game, error) {
	if len(gameIds) == 0 {
		return nil, nil
	}
	var games []Game
	if err := d.gormDB.WithContext(ctx).Table(d.GamesTable()).Where("game_id IN ?", gameIds).Find(&games).Error; err != nil {
		return nil, errors.Trace(err)
	}
	index := lo.KeyBy(games, func(g Game) int64 { return g.GameId })
	result := make([]Game, 0, len(games))
	for _, gameId := range gameIds {
		if game, ok := index[gameId]; ok {
			result = append(result, game)
		}
	}
	return result, nil
}

func (d *SQLDatabase) FindGameByRawgId(ctx context.Context, rawgId int64) (Game, error) {
	var game Game
	err := d.gormDB.WithContext(ctx).Table(d.GamesTable()).Where("rawg_id = ?", rawgId).Take(&game).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Game{}, errors.NotFoundf("game with rawg id %d", rawgId)
	} else if err != nil {
		return Game{}, errors.Trace(err)
	}
	return game, nil
}

// EnsureStubGame returns the game with the external id, creating a placeholder if absent.
func (d *SQLDatabase) EnsureStubGame(ctx context.Context, rawgId int64) (Game, error) {
	stub := Game{
		RawgId:    lo.ToPtr(rawgId),
		Title:     fmt.Sprintf("Game %d", rawgId),
		Genre:     "Unknown",
		CreatedAt: time.Now().UTC(),
	}
	if err := d.gormDB.WithContext(ctx).Table(d.GamesTable()).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "rawg_id"}}, DoNothing: true}).
		Create(&stub).Error; err != nil {
		return Game{}, errors.Trace(err)
	}
	return d.FindGameByRawgId(ctx, rawgId)
}

// UpsertExternalGames inserts or refreshes games keyed by their external id and
// returns the stored rows in input order.
func (d *SQLDatabase) UpsertExternalGames(ctx context.Context, games []Game) ([]Game, error) {
	if len(games) == 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	rawgIds := make([]int64, 0, len(games))
	for i := range games {
		if games[i].RawgId == nil {
			return nil, errors.NotValidf("game %q without rawg id", games[i].Title)
		}
		games[i].GameId = 0
		games[i].CreatedAt = now
		rawgIds = append(rawgIds, *games[i].RawgId)
	}
	if err := d.gormDB.WithContext(ctx).Table(d.GamesTable()).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "rawg_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"steam_app_id", "title", "image_url", "steam_rating", "review_count", "metacritic_score",
			}),
		}).
		CreateInBatches(&games, 500).Error; err != nil {
		return nil, errors.Trace(err)
	}
	var stored []Game
	for _, chunk := range lo.Chunk(rawgIds, 500) {
		var rows []Game
		if err := d.gormDB.WithContext(ctx).Table(d.GamesTable()).Where("rawg_id IN ?", chunk).Find(&rows).Error; err != nil {
			return nil, errors.Trace(err)
		}
		stored = append(stored, rows...)
	}
	index := lo.KeyBy(stored, func(g Game) int64 { return *g.RawgId })
	result := make([]Game, 0, len(games))
	for _, rawgId := range rawgIds {
		if game, ok := index[rawgId]; ok {
			result = append(result, game)
		}
	}
	return result, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(s)
}

// SearchGamesByGenres finds games whose genre contains any of genres, ignoring case.
// Games are ordered by metacritic score and then identifier.
func (d *SQLDatabase) SearchGamesByGenres(ctx context.Context, genres []string, exclude mapset.Set[int64], n int) ([]Game, error) {
	if len(genres) == 0 || n <= 0 {
		return nil, nil
	}
	conditions := make([]string, 0, len(genres))
	args := make([]any, 0, len(genres))
	for _, genre := range genres {
		conditions = append(conditions, `LOWER(genre) LIKE ? ESCAPE '!'`)
		args = append(args, "%"+escapeLike(strings.ToLower(genre))+"%")
	}
	tx := d.gormDB.WithContext(ctx).Table(d.GamesTable()).
		Where(strings.Join(conditions, " OR "), args...)
	if exclude != nil && exclude.Cardinality() > 0 {
		tx = tx.Where("game_id NOT IN ?", exclude.ToSlice())
	}
	var games []Game
	if err := tx.Order("COALESCE(metacritic_score, -1) DESC").Order("game_id").Limit(n).Find(&games).Error; err != nil {
		return nil, errors.Trace(err)
	}
	return games, nil
}

// ListCulturalGames returns games carrying the tag or whose title contains any pattern.
func (d *SQLDatabase) ListCulturalGames(ctx context.Context, tag string, titlePatterns []string) ([]Game, error) {
	var (
		conditions []string
		args       []any
	)
	if tag != "" {
		conditions = append(conditions, `LOWER(tags) LIKE ? ESCAPE '!'`)
		args = append(args, "%"+escapeLike(strings.ToLower(tag))+"%")
	}
	for _, pattern := range titlePatterns {
		if pattern == "" {
			continue
		}
		conditions = append(conditions, `LOWER(title) LIKE ? ESCAPE '!'`)
		args = append(args, "%"+escapeLike(strings.ToLower(pattern))+"%")
	}
	if len(conditions) == 0 {
		return nil, nil
	}
	var games []Game
	if err := d.gormDB.WithContext(ctx).Table(d.GamesTable()).
		Where(strings.Join(conditions, " OR "), args...).
		Order("game_id").Find(&games).Error; err != nil {
		return nil, errors.Trace(err)
	}
	// substring matches on tags are confirmed against whole slugs
	lowered := lo.Map(titlePatterns, func(p string, _ int) string { return strings.ToLower(p) })
	return lo.Filter(games, func(g Game, _ int) bool {
		if tag != "" && g.HasTag(tag) {
			return true
		}
		title := strings.ToLower(g.Title)
		return lo.ContainsBy(lowered, func(p string) bool { return p != "" && strings.Contains(title, p) })
	}), nil
}

// UpsertRating inserts or overwrites the rating of a user on a game. An onboarding
// rating moves a not started user in progress. The rating count of an existing
// onboarding state is refreshed on every write.
func (d *SQLDatabase) UpsertRating(ctx context.Context, userId string, gameId int64, score Score, isOnboarding bool) (Rating, OnboardingState, error) {
	if !score.Valid() {
		return Rating{}, OnboardingState{}, errors.NotValidf("score code %d", score)
	}
	var (
		rating Rating
		state  OnboardingState
	)
	err := d.gormDB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Table(d.GamesTable()).Where("game_id = ?", gameId).Count(&count).Error; err != nil {
			return errors.Trace(err)
		}
		if count == 0 {
			return errors.NotFoundf("game %d", gameId)
		}
		now := time.Now().UTC()
		rating = Rating{
			UserId:       userId,
			GameId:       gameId,
			Score:        score,
			IsOnboarding: isOnboarding,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.Table(d.RatingsTable()).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "game_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"score", "is_onboarding", "updated_at"}),
		}).Create(&rating).Error; err != nil {
			return errors.Trace(err)
		}
		if err := tx.Table(d.RatingsTable()).Where("user_id = ? AND game_id = ?", userId, gameId).Take(&rating).Error; err != nil {
			return errors.Trace(err)
		}
		var err error
		state, err = d.refreshOnboardingState(tx, userId, func(state *OnboardingState) bool {
			if !isOnboarding {
				return false
			}
			if state.Status == NotStarted {
				state.Status = InProgress
				state.StartedAt = lo.ToPtr(now)
			}
			return true
		})
		return err
	})
	if err != nil {
		return Rating{}, OnboardingState{}, err
	}
	return rating, state, nil
}

// refreshOnboardingState loads the state of a user, lets update modify it and stores it
// with a fresh rating count. A missing state is only created when update returns true.
func (d *SQLDatabase) refreshOnboardingState(tx *gorm.DB, userId string, update func(*OnboardingState) bool) (OnboardingState, error) {
	var state OnboardingState
	exist := true
	err := tx.Table(d.OnboardingTable()).Where("user_id = ?", userId).Take(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		exist = false
		state = OnboardingState{UserId: userId, Status: NotStarted}
	} else if err != nil {
		return OnboardingState{}, errors.Trace(err)
	}
	var total int64
	if err = tx.Table(d.RatingsTable()).Where("user_id = ?", userId).Count(&total).Error; err != nil {
		return OnboardingState{}, errors.Trace(err)
	}
	state.TotalRatings = int(total)
	if create := update(&state); !exist && !create {
		return state, nil
	}
	if err = tx.Table(d.OnboardingTable()).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "total_ratings", "started_at", "completed_at"}),
	}).Create(&state).Error; err != nil {
		return OnboardingState{}, errors.Trace(err)
	}
	return state, nil
}

func (d *SQLDatabase) GetRating(ctx context.Context, userId string, gameId int64) (Rating, error) {
	var rating Rating
	err := d.gormDB.WithContext(ctx).Table(d.RatingsTable()).Where("user_id = ? AND game_id = ?", userId, gameId).Take(&rating).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Rating{}, errors.NotFoundf("rating of user %s on game %d", userId, gameId)
	} else if err != nil {
		return Rating{}, errors.Trace(err)
	}
	return rating, nil
}

// ListRatings returns ratings of a user in the order they were last written.
func (d *SQLDatabase) ListRatings(ctx context.Context, userId string, excludeSkip bool) ([]Rating, error) {
	tx := d.gormDB.WithContext(ctx).Table(d.RatingsTable()).Where("user_id = ?", userId)
	if excludeSkip {
		tx = tx.Where("score <> ?", ScoreSkip)
	}
	var ratings []Rating
	if err := tx.Order("updated_at").Order("id").Find(&ratings).Error; err != nil {
		return nil, errors.Trace(err)
	}
	return ratings, nil
}

// LikedGameIds returns games rated positive by a user with their scores.
func (d *SQLDatabase) LikedGameIds(ctx context.Context, userId string) (map[int64]Score, error) {
	var ratings []Rating
	if err := d.gormDB.WithContext(ctx).Table(d.RatingsTable()).
		Where("user_id = ? AND score >= ?", userId, ScorePositive).
		Find(&ratings).Error; err != nil {
		return nil, errors.Trace(err)
	}
	liked := make(map[int64]Score, len(ratings))
	for _, rating := range ratings {
		liked[rating.GameId] = rating.Score
	}
	return liked, nil
}

// RatedGameIds returns every game rated by a user, skips included.
func (d *SQLDatabase) RatedGameIds(ctx context.Context, userId string) (mapset.Set[int64], error) {
	var gameIds []int64
	if err := d.gormDB.WithContext(ctx).Table(d.RatingsTable()).
		Where("user_id = ?", userId).
		Pluck("game_id", &gameIds).Error; err != nil {
		return nil, errors.Trace(err)
	}
	return mapset.NewThreadUnsafeSet(gameIds...), nil
}

// ScanPositiveRatings streams all ratings with a positive score inside one
// transaction so the caller observes a consistent snapshot.
func (d *SQLDatabase) ScanPositiveRatings(ctx context.Context, batchSize int, fn func([]Rating) error) error {
	var opts *sql.TxOptions
	if d.driver != storage.SQLite {
		opts = &sql.TxOptions{Isolation: sql.LevelRepeatableRead}
	}
	return d.gormDB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var batch []Rating
		var innerErr error
		result := tx.Table(d.RatingsTable()).Where("score > ?", ScoreSkip).
			FindInBatches(&batch, batchSize, func(_ *gorm.DB, _ int) error {
				if innerErr = fn(batch); innerErr != nil {
					return innerErr
				}
				return nil
			})
		if innerErr != nil {
			return innerErr
		}
		return errors.Trace(result.Error)
	}, opts)
}

// GetOnboardingState returns the state of a user. Users without a stored state are not started.
func (d *SQLDatabase) GetOnboardingState(ctx context.Context, userId string) (OnboardingState, error) {
	var state OnboardingState
	err := d.gormDB.WithContext(ctx).Table(d.OnboardingTable()).Where("user_id = ?", userId).Take(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		var total int64
		if err = d.gormDB.WithContext(ctx).Table(d.RatingsTable()).Where("user_id = ?", userId).Count(&total).Error; err != nil {
			return OnboardingState{}, errors.Trace(err)
		}
		return OnboardingState{UserId: userId, Status: NotStarted, TotalRatings: int(total)}, nil
	} else if err != nil {
		return OnboardingState{}, errors.Trace(err)
	}
	return state, nil
}

// CompleteOnboarding finishes onboarding as completed or skipped. A user who has
// already finished keeps the original outcome.
func (d *SQLDatabase) CompleteOnboarding(ctx context.Context, userId string, skipped bool) (OnboardingState, error) {
	var state OnboardingState
	err := d.gormDB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		state, err = d.refreshOnboardingState(tx, userId, func(state *OnboardingState) bool {
			if state.Status.Terminal() {
				return true
			}
			if skipped {
				state.Status = Skipped
			} else {
				state.Status = Completed
			}
			state.CompletedAt = lo.ToPtr(time.Now().UTC())
			return true
		})
		return err
	})
	if err != nil {
		return OnboardingState{}, err
	}
	return state, nil
}
