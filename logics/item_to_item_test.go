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

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gamedex/gamerec/storage/cache"
	"github.com/gamedex/gamerec/storage/data"
)

func (suite *LogicsTestSuite) TestItemToItem() {
	ctx := context.Background()
	// a, b liked; c, d, e candidates; x disliked; f beyond the rank cutoff
	const a, b, c, d, e, f, x = 1, 2, 3, 4, 5, 6, 7
	suite.NoError(suite.cacheClient.ReplaceAll(ctx, []cache.Similarity{
		{GameA: a, GameB: b, Score: 0.95, Rank: 1},
		{GameA: a, GameB: c, Score: 0.8, Rank: 3},
		{GameA: b, GameB: c, Score: 0.5, Rank: 2},
		{GameA: a, GameB: d, Score: 0.6, Rank: 4},
		{GameA: b, GameB: e, Score: 0.9, Rank: 1},
		{GameA: a, GameB: x, Score: 0.99, Rank: 2},
		{GameA: a, GameB: f, Score: 0.99, Rank: 31},
	}))
	itemToItem := NewItemToItem(suite.cacheClient, 30)
	liked := map[int64]data.Score{a: data.ScoreVeryPositive, b: data.ScorePositive}
	rated := mapset.NewSet[int64](a, b, x)

	scored, err := itemToItem.Recommend(ctx, liked, rated, 10)
	suite.NoError(err)
	suite.Len(scored, 3)
	suite.Equal(int64(e), scored[0].GameId)
	suite.InDelta(0.9, scored[0].Score, 1e-9)
	suite.Equal(int64(b), scored[0].Anchor)
	suite.Equal(int64(c), scored[1].GameId)
	suite.InDelta((0.8*1+0.5*0.7)/1.7, scored[1].Score, 1e-9)
	suite.Equal(int64(a), scored[1].Anchor)
	suite.Equal(ScoredGame{GameId: d, Score: 0.6, Anchor: a}, scored[2])

	// top n only
	scored, err = itemToItem.Recommend(ctx, liked, rated, 1)
	suite.NoError(err)
	suite.Equal([]int64{e}, gameIds(scored, func(s ScoredGame) int64 { return s.GameId }))

	// no liked games
	scored, err = itemToItem.Recommend(ctx, map[int64]data.Score{}, rated, 10)
	suite.NoError(err)
	suite.Empty(scored)
}

func (suite *LogicsTestSuite) TestItemToItemTie() {
	ctx := context.Background()
	suite.NoError(suite.cacheClient.ReplaceAll(ctx, []cache.Similarity{
		{GameA: 1, GameB: 9, Score: 0.5, Rank: 1},
		{GameA: 1, GameB: 4, Score: 0.5, Rank: 1},
		{GameA: 1, GameB: 6, Score: 0.5, Rank: 1},
	}))
	itemToItem := NewItemToItem(suite.cacheClient, 30)
	scored, err := itemToItem.Recommend(ctx, map[int64]data.Score{1: data.ScorePositive}, mapset.NewSet[int64](1), 10)
	suite.NoError(err)
	suite.Equal([]int64{4, 6, 9}, gameIds(scored, func(s ScoredGame) int64 { return s.GameId }))
	for _, s := range scored {
		suite.InDelta(0.5, s.Score, 1e-12)
	}
}
