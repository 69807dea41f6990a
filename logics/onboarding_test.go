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
	"sync/atomic"

	"github.com/gamedex/gamerec/master"
	"github.com/gamedex/gamerec/storage/data"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

func (suite *LogicsTestSuite) newOnboarding(entries []SeedEntry) *OnboardingController {
	seed := suite.newSeed(entries)
	return NewOnboardingController(suite.config.Onboarding, suite.dataClient, seed,
		NewCulturalCatalog(suite.config.Onboarding, suite.dataClient))
}

func seedGameIds(page *PagedSeed) []int64 {
	return gameIds(page.Games, func(g SeedGame) int64 { return g.GameId })
}

func (suite *LogicsTestSuite) TestFetchPage() {
	ctx := context.Background()
	controller := suite.newOnboarding(seedEntries(20))
	all := gameIds(controller.seed.Games(), func(g data.Game) int64 { return g.GameId })

	page, err := controller.FetchPage(ctx, "alice", 1, 0, PopularMode)
	suite.NoError(err)
	suite.Equal(all[:8], seedGameIds(page))
	suite.Equal(Pagination{CurrentPage: 1, TotalPages: 3, PerPage: 8, Total: 20, HasPrev: false, HasNext: true}, page.Pagination)
	suite.Equal(PopularMode, page.Mode)
	suite.Equal("popular", page.Step.Genre)
	suite.Equal("https://img.example.com/0.jpg", page.Games[0].Image)

	page, err = controller.FetchPage(ctx, "alice", 3, 8, PopularMode)
	suite.NoError(err)
	suite.Equal(all[16:], seedGameIds(page))
	suite.False(page.Pagination.HasNext)
	suite.True(page.Pagination.HasPrev)

	// pages past the end are clamped
	page, err = controller.FetchPage(ctx, "alice", 99, 8, PopularMode)
	suite.NoError(err)
	suite.Equal(3, page.Pagination.CurrentPage)
	suite.Equal(all[16:], seedGameIds(page))

	// pages before the start are clamped too
	for _, low := range []int{0, -3} {
		page, err = controller.FetchPage(ctx, "alice", low, 8, PopularMode)
		suite.NoError(err)
		suite.Equal(1, page.Pagination.CurrentPage)
		suite.False(page.Pagination.HasPrev)
		suite.Equal(all[:8], seedGameIds(page))
	}

	// invalid pagination
	_, err = controller.FetchPage(ctx, "alice", 1, 51, PopularMode)
	suite.True(errors.Is(err, errors.NotValid))
	_, err = controller.FetchPage(ctx, "alice", 1, -1, PopularMode)
	suite.True(errors.Is(err, errors.NotValid))
	_, err = controller.FetchPage(ctx, "alice", 1, 8, OnboardingMode("steam"))
	suite.True(errors.Is(err, errors.NotValid))
}

func (suite *LogicsTestSuite) TestFetchPageExclusion() {
	ctx := context.Background()
	controller := suite.newOnboarding(seedEntries(10))
	all := gameIds(controller.seed.Games(), func(g data.Game) int64 { return g.GameId })
	// rated games on the first page shift the rest forward
	suite.rate("bob", all[0], data.ScoreVeryPositive)
	suite.rate("bob", all[2], data.ScoreSkip)
	suite.rate("bob", all[9], data.ScoreNegative)

	page, err := controller.FetchPage(ctx, "bob", 1, 4, PopularMode)
	suite.NoError(err)
	suite.Equal([]int64{all[1], all[3], all[4], all[5]}, seedGameIds(page))
	suite.Equal(7, page.Pagination.Total)
	suite.Equal(2, page.Pagination.TotalPages)
	page, err = controller.FetchPage(ctx, "bob", 2, 4, PopularMode)
	suite.NoError(err)
	suite.Equal([]int64{all[6], all[7], all[8]}, seedGameIds(page))

	// everything rated
	for _, gameId := range all {
		suite.rate("carol", gameId, data.ScorePositive)
	}
	page, err = controller.FetchPage(ctx, "carol", 5, 4, PopularMode)
	suite.NoError(err)
	suite.Empty(page.Games)
	suite.Equal(Pagination{CurrentPage: 1, TotalPages: 1, PerPage: 4}, page.Pagination)
}

func (suite *LogicsTestSuite) TestFetchCulturalPage() {
	ctx := context.Background()
	games := suite.insertGames(
		data.Game{Title: "Lost Ark", ImageURL: "lostark.jpg", RawgId: lo.ToPtr[int64](10)},
		data.Game{Title: "Blade & Soul", Tags: "korean", ImageURL: "bns.jpg", RawgId: lo.ToPtr[int64](20)},
	)
	controller := suite.newOnboarding(nil)
	suite.rate("dave", games[1].GameId, data.ScorePositive)
	page, err := controller.FetchPage(ctx, "dave", 1, 8, CulturalMode)
	suite.NoError(err)
	suite.Equal([]int64{games[0].GameId}, seedGameIds(page))
	suite.Equal(CulturalMode, page.Mode)
	suite.Equal("korean", page.Step.Genre)
}

func (suite *LogicsTestSuite) TestRecordRating() {
	ctx := context.Background()
	controller := suite.newOnboarding(seedEntries(3))
	first := controller.seed.Games()[0]

	_, _, err := controller.RecordRating(ctx, "erin", LocalRef(first.GameId), 4)
	suite.True(errors.Is(err, errors.NotValid))
	state, err := suite.dataClient.GetOnboardingState(ctx, "erin")
	suite.NoError(err)
	suite.Equal(data.NotStarted, state.Status)

	rating, state, err := controller.RecordRating(ctx, "erin", LocalRef(first.GameId), 3.5)
	suite.NoError(err)
	suite.Equal(data.ScorePositive, rating.Score)
	suite.True(rating.IsOnboarding)
	suite.Equal(data.InProgress, state.Status)
	suite.NotNil(state.StartedAt)
	suite.Equal(1, state.TotalRatings)

	// unknown RAWG games are created on the fly
	rating, state, err = controller.RecordRating(ctx, "erin", ExternalRef(3498), -1)
	suite.NoError(err)
	suite.Equal(data.ScoreNegative, rating.Score)
	suite.Equal(2, state.TotalRatings)
	_, _, err = controller.RecordRating(ctx, "erin", LocalRef(1<<40), 5)
	suite.True(errors.Is(err, errors.NotFound))
}

func (suite *LogicsTestSuite) TestComplete() {
	ctx := context.Background()
	controller := suite.newOnboarding(seedEntries(5))
	var rebuilds atomic.Int32
	controller.Rebuild = func(context.Context) error {
		rebuilds.Add(1)
		return master.ErrBatchInProgress
	}
	games := controller.seed.Games()

	// too few ratings to rebuild
	_, _, err := controller.RecordRating(ctx, "frank", LocalRef(games[0].GameId), 5)
	suite.NoError(err)
	state, err := controller.Complete(ctx, "frank", false)
	suite.NoError(err)
	suite.Equal(data.Completed, state.Status)
	suite.NotNil(state.CompletedAt)
	controller.Wait()
	suite.Zero(rebuilds.Load())

	// skipping never rebuilds
	for _, game := range games[:3] {
		_, _, err = controller.RecordRating(ctx, "grace", LocalRef(game.GameId), 5)
		suite.NoError(err)
	}
	state, err = controller.Complete(ctx, "grace", true)
	suite.NoError(err)
	suite.Equal(data.Skipped, state.Status)
	controller.Wait()
	suite.Zero(rebuilds.Load())

	// terminal states are absorbing
	state, err = controller.Complete(ctx, "grace", false)
	suite.NoError(err)
	suite.Equal(data.Skipped, state.Status)
	_, state, err = controller.RecordRating(ctx, "grace", LocalRef(games[4].GameId), 3.5)
	suite.NoError(err)
	suite.Equal(data.Skipped, state.Status)
	suite.Equal(4, state.TotalRatings)
	controller.Wait()
	suite.Zero(rebuilds.Load())

	// enough ratings
	for _, game := range games[:3] {
		_, _, err = controller.RecordRating(ctx, "heidi", LocalRef(game.GameId), 3.5)
		suite.NoError(err)
	}
	state, err = controller.Complete(ctx, "heidi", false)
	suite.NoError(err)
	suite.Equal(data.Completed, state.Status)
	controller.Wait()
	suite.Equal(int32(1), rebuilds.Load())
}

func (suite *LogicsTestSuite) TestStatus() {
	ctx := context.Background()
	controller := suite.newOnboarding(seedEntries(6))
	games := controller.seed.Games()

	status, err := controller.Status(ctx, "ivan")
	suite.NoError(err)
	suite.Equal(data.NotStarted, status.Status)
	suite.True(status.NeedsOnboarding)
	suite.Empty(status.Ratings)

	stub, err := suite.dataClient.InsertGames(ctx, []data.Game{{Title: "Local only"}})
	suite.NoError(err)
	_, _, err = controller.RecordRating(ctx, "ivan", LocalRef(stub[0].GameId), 5)
	suite.NoError(err)
	_, _, err = controller.RecordRating(ctx, "ivan", LocalRef(games[0].GameId), 0)
	suite.NoError(err)
	status, err = controller.Status(ctx, "ivan")
	suite.NoError(err)
	suite.Equal(data.InProgress, status.Status)
	suite.Equal(2, status.TotalRatings)
	suite.True(status.NeedsOnboarding)
	suite.Equal(map[string]data.Score{
		LocalRef(stub[0].GameId).String():        data.ScoreVeryPositive,
		strconv.FormatInt(*games[0].RawgId, 10): data.ScoreSkip,
	}, status.Ratings)

	// enough ratings
	for _, game := range games[1:4] {
		_, _, err = controller.RecordRating(ctx, "ivan", LocalRef(game.GameId), 3.5)
		suite.NoError(err)
	}
	status, err = controller.Status(ctx, "ivan")
	suite.NoError(err)
	suite.Equal(5, status.TotalRatings)
	suite.False(status.NeedsOnboarding)

	// finished users are not asked again
	_, err = controller.Complete(ctx, "judy", true)
	suite.NoError(err)
	status, err = controller.Status(ctx, "judy")
	suite.NoError(err)
	suite.Equal(data.Skipped, status.Status)
	suite.False(status.NeedsOnboarding)
}
