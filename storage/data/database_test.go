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
	"fmt"
	"time"

	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/stretchr/testify/suite"
)

type baseTestSuite struct {
	suite.Suite
	Database
}

func (suite *baseTestSuite) SetupTest() {
	err := suite.Database.Purge()
	suite.NoError(err)
}

func (suite *baseTestSuite) insertGames(titles ...string) []Game {
	games := make([]Game, len(titles))
	for i, title := range titles {
		games[i] = Game{Title: title}
	}
	games, err := suite.InsertGames(context.Background(), games)
	suite.NoError(err)
	return games
}

func (suite *baseTestSuite) TestGames() {
	ctx := context.Background()
	games, err := suite.InsertGames(ctx, []Game{
		{Title: "Portal 2", Genre: "Puzzle, Action", RawgId: lo.ToPtr[int64](4200), MetacriticScore: lo.ToPtr(95)},
		{Title: "Hades", Genre: "Action,Roguelike", RawgId: lo.ToPtr[int64](274755)},
		{Title: "Stardew Valley", Genre: "Simulation"},
	})
	suite.NoError(err)
	suite.Len(games, 3)
	suite.NotZero(games[0].GameId)

	game, err := suite.GetGame(ctx, games[0].GameId)
	suite.NoError(err)
	suite.Equal("Portal 2", game.Title)
	suite.Equal([]string{"Puzzle", "Action"}, game.Genres())
	_, err = suite.GetGame(ctx, 1<<40)
	suite.True(errors.Is(err, errors.NotFound))

	// missing games are skipped and order is kept
	got, err := suite.GetGames(ctx, []int64{games[2].GameId, 1 << 40, games[0].GameId})
	suite.NoError(err)
	suite.Equal([]int64{games[2].GameId, games[0].GameId}, lo.Map(got, func(g Game, _ int) int64 { return g.GameId }))

	game, err = suite.FindGameByRawgId(ctx, 274755)
	suite.NoError(err)
	suite.Equal("Hades", game.Title)
	_, err = suite.FindGameByRawgId(ctx, 1)
	suite.True(errors.Is(err, errors.NotFound))
}

func (suite *baseTestSuite) TestEnsureStubGame() {
	ctx := context.Background()
	stub, err := suite.EnsureStubGame(ctx, 3498)
	suite.NoError(err)
	suite.Equal("Game 3498", stub.Title)
	suite.Equal("Unknown", stub.Genre)
	suite.Equal(int64(3498), *stub.RawgId)
	// idempotent
	again, err := suite.EnsureStubGame(ctx, 3498)
	suite.NoError(err)
	suite.Equal(stub.GameId, again.GameId)
}

func (suite *baseTestSuite) TestUpsertExternalGames() {
	ctx := context.Background()
	stub, err := suite.EnsureStubGame(ctx, 3498)
	suite.NoError(err)
	games, err := suite.UpsertExternalGames(ctx, []Game{
		{Title: "Grand Theft Auto V", RawgId: lo.ToPtr[int64](3498), SteamRating: 87, ReviewCount: 1500000},
		{Title: "The Witcher 3", RawgId: lo.ToPtr[int64](3328), SteamRating: 96, ReviewCount: 700000},
	})
	suite.NoError(err)
	suite.Len(games, 2)
	// the stub is refreshed in place
	suite.Equal(stub.GameId, games[0].GameId)
	suite.Equal("Grand Theft Auto V", games[0].Title)
	suite.Equal(87, games[0].SteamRating)
	suite.Equal("The Witcher 3", games[1].Title)

	_, err = suite.UpsertExternalGames(ctx, []Game{{Title: "no id"}})
	suite.True(errors.Is(err, errors.NotValid))
}

func (suite *baseTestSuite) TestSearchGamesByGenres() {
	ctx := context.Background()
	games, err := suite.InsertGames(ctx, []Game{
		{Title: "A", Genre: "Action", MetacriticScore: lo.ToPtr(80)},
		{Title: "B", Genre: "action, RPG", MetacriticScore: lo.ToPtr(90)},
		{Title: "C", Genre: "RPG"},
		{Title: "D", Genre: "Puzzle", MetacriticScore: lo.ToPtr(99)},
		{Title: "E", Genre: "Action_RPG", MetacriticScore: lo.ToPtr(80)},
	})
	suite.NoError(err)
	ids := lo.Map(games, func(g Game, _ int) int64 { return g.GameId })

	found, err := suite.SearchGamesByGenres(ctx, []string{"Action"}, nil, 10)
	suite.NoError(err)
	suite.Equal([]int64{ids[1], ids[0], ids[4]}, lo.Map(found, func(g Game, _ int) int64 { return g.GameId }))

	// excluded games and limit
	found, err = suite.SearchGamesByGenres(ctx, []string{"action", "rpg"}, newSet(ids[1]), 2)
	suite.NoError(err)
	suite.Equal([]int64{ids[0], ids[4]}, lo.Map(found, func(g Game, _ int) int64 { return g.GameId }))

	// wildcards are literal
	found, err = suite.SearchGamesByGenres(ctx, []string{"n_R"}, nil, 10)
	suite.NoError(err)
	suite.Len(found, 1)
	suite.Equal(ids[4], found[0].GameId)

	found, err = suite.SearchGamesByGenres(ctx, nil, nil, 10)
	suite.NoError(err)
	suite.Empty(found)
}

func (suite *baseTestSuite) TestListCulturalGames() {
	ctx := context.Background()
	games, err := suite.InsertGames(ctx, []Game{
		{Title: "MapleStory", Tags: "mmo"},
		{Title: "Kart Rider", Tags: "racing,korean"},
		{Title: "Koreanish Tales", Tags: "koreanish"},
		{Title: "Portal 2"},
	})
	suite.NoError(err)
	found, err := suite.ListCulturalGames(ctx, "korean", []string{"maplestory"})
	suite.NoError(err)
	suite.Equal([]int64{games[0].GameId, games[1].GameId}, lo.Map(found, func(g Game, _ int) int64 { return g.GameId }))
}

func (suite *baseTestSuite) TestUpsertRating() {
	ctx := context.Background()
	games := suite.insertGames("G1", "G2")

	// plain ratings do not create onboarding states
	rating, state, err := suite.UpsertRating(ctx, "alice", games[0].GameId, ScoreVeryPositive, false)
	suite.NoError(err)
	suite.Equal(ScoreVeryPositive, rating.Score)
	suite.Equal(NotStarted, state.Status)
	suite.Equal(1, state.TotalRatings)
	stored, err := suite.GetOnboardingState(ctx, "alice")
	suite.NoError(err)
	suite.Equal(NotStarted, stored.Status)

	// onboarding ratings start onboarding
	rating, state, err = suite.UpsertRating(ctx, "alice", games[1].GameId, ScorePositive, true)
	suite.NoError(err)
	suite.True(rating.IsOnboarding)
	suite.Equal(InProgress, state.Status)
	suite.NotNil(state.StartedAt)
	suite.Equal(2, state.TotalRatings)
	startedAt := *state.StartedAt

	// overwrite keeps a single row
	time.Sleep(time.Millisecond)
	rating, state, err = suite.UpsertRating(ctx, "alice", games[0].GameId, ScoreNegative, false)
	suite.NoError(err)
	suite.Equal(ScoreNegative, rating.Score)
	suite.Equal(InProgress, state.Status)
	suite.Equal(2, state.TotalRatings)
	suite.WithinDuration(startedAt, *state.StartedAt, time.Millisecond)
	suite.True(rating.UpdatedAt.After(rating.CreatedAt))

	// unknown game
	_, _, err = suite.UpsertRating(ctx, "alice", 1<<40, ScorePositive, true)
	suite.True(errors.Is(err, errors.NotFound))
	// invalid code
	_, _, err = suite.UpsertRating(ctx, "alice", games[0].GameId, Score(3), true)
	suite.True(errors.Is(err, errors.NotValid))
}

func (suite *baseTestSuite) TestScoreFidelity() {
	ctx := context.Background()
	games := suite.insertGames("G1")
	for _, ordinal := range []float64{-1, 0, 3.5, 5} {
		score, err := ParseScore(ordinal)
		suite.NoError(err)
		_, _, err = suite.UpsertRating(ctx, "bob", games[0].GameId, score, false)
		suite.NoError(err)
		rating, err := suite.GetRating(ctx, "bob", games[0].GameId)
		suite.NoError(err)
		suite.Equal(ordinal, rating.Score.Ordinal())
	}
	_, err := suite.GetRating(ctx, "carol", games[0].GameId)
	suite.True(errors.Is(err, errors.NotFound))
}

func (suite *baseTestSuite) TestListRatings() {
	ctx := context.Background()
	games := suite.insertGames("G1", "G2", "G3", "G4")
	scores := []Score{ScoreVeryPositive, ScoreSkip, ScorePositive, ScoreNegative}
	for i, game := range games {
		_, _, err := suite.UpsertRating(ctx, "dave", game.GameId, scores[i], true)
		suite.NoError(err)
		time.Sleep(time.Millisecond)
	}
	_, _, err := suite.UpsertRating(ctx, "erin", games[0].GameId, ScorePositive, true)
	suite.NoError(err)

	ratings, err := suite.ListRatings(ctx, "dave", false)
	suite.NoError(err)
	suite.Equal([]int64{games[0].GameId, games[1].GameId, games[2].GameId, games[3].GameId},
		lo.Map(ratings, func(r Rating, _ int) int64 { return r.GameId }))
	ratings, err = suite.ListRatings(ctx, "dave", true)
	suite.NoError(err)
	suite.Len(ratings, 3)

	// a rewrite moves the rating to the end
	_, _, err = suite.UpsertRating(ctx, "dave", games[0].GameId, ScorePositive, true)
	suite.NoError(err)
	ratings, err = suite.ListRatings(ctx, "dave", false)
	suite.NoError(err)
	suite.Equal(games[0].GameId, ratings[3].GameId)

	liked, err := suite.LikedGameIds(ctx, "dave")
	suite.NoError(err)
	suite.Equal(map[int64]Score{games[0].GameId: ScorePositive, games[2].GameId: ScorePositive}, liked)

	rated, err := suite.RatedGameIds(ctx, "dave")
	suite.NoError(err)
	suite.Equal(4, rated.Cardinality())
	suite.True(rated.Contains(games[1].GameId))
}

func (suite *baseTestSuite) TestScanPositiveRatings() {
	ctx := context.Background()
	games := suite.insertGames("G1", "G2", "G3")
	for i, user := range []string{"u1", "u2", "u3", "u4", "u5"} {
		for j, game := range games {
			score := []Score{ScoreVeryPositive, ScorePositive, ScoreSkip, ScoreNegative}[(i+j)%4]
			_, _, err := suite.UpsertRating(ctx, user, game.GameId, score, false)
			suite.NoError(err)
		}
	}
	var scanned []Rating
	err := suite.ScanPositiveRatings(ctx, 2, func(batch []Rating) error {
		suite.LessOrEqual(len(batch), 2)
		scanned = append(scanned, batch...)
		return nil
	})
	suite.NoError(err)
	suite.Len(scanned, 8)
	for _, rating := range scanned {
		suite.True(rating.Score > ScoreSkip)
	}

	// callback errors abort the scan
	err = suite.ScanPositiveRatings(ctx, 2, func([]Rating) error {
		return fmt.Errorf("stop")
	})
	suite.EqualError(errors.Cause(err), "stop")
}

func (suite *baseTestSuite) TestCompleteOnboarding() {
	ctx := context.Background()
	games := suite.insertGames("G1")

	// completing from scratch
	state, err := suite.CompleteOnboarding(ctx, "frank", true)
	suite.NoError(err)
	suite.Equal(Skipped, state.Status)
	suite.NotNil(state.CompletedAt)

	// terminal states are absorbing
	state, err = suite.CompleteOnboarding(ctx, "frank", false)
	suite.NoError(err)
	suite.Equal(Skipped, state.Status)
	_, state, err = suite.UpsertRating(ctx, "frank", games[0].GameId, ScorePositive, true)
	suite.NoError(err)
	suite.Equal(Skipped, state.Status)
	suite.Equal(1, state.TotalRatings)

	_, _, err = suite.UpsertRating(ctx, "grace", games[0].GameId, ScorePositive, true)
	suite.NoError(err)
	state, err = suite.CompleteOnboarding(ctx, "grace", false)
	suite.NoError(err)
	suite.Equal(Completed, state.Status)
	suite.NotNil(state.StartedAt)
	stored, err := suite.GetOnboardingState(ctx, "grace")
	suite.NoError(err)
	suite.Equal(Completed, stored.Status)
	suite.Equal(1, stored.TotalRatings)
}
