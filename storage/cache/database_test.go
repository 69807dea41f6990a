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

package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/suite"
)

type baseTestSuite struct {
	suite.Suite
	Database
}

func (suite *baseTestSuite) SetupTest() {
	err := suite.Database.Ping()
	suite.NoError(err)
	err = suite.Database.Purge()
	suite.NoError(err)
}

func (suite *baseTestSuite) TestNeighbors() {
	ctx := context.Background()
	err := suite.ReplaceAll(ctx, []Similarity{
		{GameA: 1, GameB: 2, Score: 0.9, Rank: 1},
		{GameA: 1, GameB: 3, Score: 0.5, Rank: 2},
		{GameA: 2, GameB: 3, Score: 0.5, Rank: 3},
		{GameA: 3, GameB: 4, Score: 0.2, Rank: 40},
	})
	suite.NoError(err)

	// anchor on the left side
	neighbors, err := suite.Neighbors(ctx, 1, 30)
	suite.NoError(err)
	suite.Equal([]Neighbor{{GameId: 2, Score: 0.9, Rank: 1}, {GameId: 3, Score: 0.5, Rank: 2}}, neighbors)
	// anchor on both sides, ties broken by game id
	neighbors, err = suite.Neighbors(ctx, 3, 30)
	suite.NoError(err)
	suite.Equal([]Neighbor{{GameId: 1, Score: 0.5, Rank: 2}, {GameId: 2, Score: 0.5, Rank: 3}}, neighbors)
	// no rank limit
	neighbors, err = suite.Neighbors(ctx, 3, 0)
	suite.NoError(err)
	suite.Len(neighbors, 3)
	// unknown anchor
	neighbors, err = suite.Neighbors(ctx, 100, 30)
	suite.NoError(err)
	suite.Empty(neighbors)
}

func (suite *baseTestSuite) TestSymmetry() {
	ctx := context.Background()
	err := suite.ReplaceAll(ctx, []Similarity{{GameA: 5, GameB: 9, Score: 0.75, Rank: 1}})
	suite.NoError(err)
	left, err := suite.Neighbors(ctx, 5, 30)
	suite.NoError(err)
	right, err := suite.Neighbors(ctx, 9, 30)
	suite.NoError(err)
	suite.Equal([]Neighbor{{GameId: 9, Score: 0.75, Rank: 1}}, left)
	suite.Equal([]Neighbor{{GameId: 5, Score: 0.75, Rank: 1}}, right)
}

func (suite *baseTestSuite) TestReplaceAll() {
	ctx := context.Background()
	calculatedAt := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	err := suite.ReplaceAll(ctx, []Similarity{
		{GameA: 1, GameB: 2, Score: 0.9, Rank: 1, CalculatedAt: calculatedAt},
	})
	suite.NoError(err)
	err = suite.ReplaceAll(ctx, []Similarity{
		{GameA: 3, GameB: 4, Score: 0.4, Rank: 1},
		{GameA: 3, GameB: 5, Score: 0.3, Rank: 2},
	})
	suite.NoError(err)
	rows, err := suite.Scan(ctx)
	suite.NoError(err)
	suite.Len(rows, 2)
	suite.Equal(int64(3), rows[0].GameA)
	suite.Equal(int64(4), rows[0].GameB)
	suite.Equal(int64(5), rows[1].GameB)
	count, err := suite.Count(ctx)
	suite.NoError(err)
	suite.Equal(int64(2), count)
	last, err := suite.LastCalculatedAt(ctx)
	suite.NoError(err)
	suite.True(last.After(calculatedAt))

	// replace with nothing
	err = suite.ReplaceAll(ctx, nil)
	suite.NoError(err)
	count, err = suite.Count(ctx)
	suite.NoError(err)
	suite.Zero(count)
	last, err = suite.LastCalculatedAt(ctx)
	suite.NoError(err)
	suite.True(last.IsZero())
}

func (suite *baseTestSuite) TestReplaceAllInvalid() {
	ctx := context.Background()
	err := suite.ReplaceAll(ctx, []Similarity{{GameA: 1, GameB: 2, Score: 0.9, Rank: 1}})
	suite.NoError(err)
	err = suite.ReplaceAll(ctx, []Similarity{{GameA: 2, GameB: 1, Score: 0.9, Rank: 1}})
	suite.True(errors.Is(err, errors.NotValid))
	err = suite.ReplaceAll(ctx, []Similarity{{GameA: 1, GameB: 2, Score: 0.9, Rank: 0}})
	suite.True(errors.Is(err, errors.NotValid))
	count, err := suite.Count(ctx)
	suite.NoError(err)
	suite.Equal(int64(1), count)
}

func (suite *baseTestSuite) TestReplaceAllCancelled() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := suite.ReplaceAll(ctx, []Similarity{{GameA: 1, GameB: 2, Score: 0.9, Rank: 1}})
	suite.NoError(err)
	count, err := suite.Count(context.Background())
	suite.NoError(err)
	suite.Equal(int64(1), count)
}

func (suite *baseTestSuite) TestManyRows() {
	ctx := context.Background()
	var rows []Similarity
	for i := 1; i <= 2500; i++ {
		rows = append(rows, Similarity{GameA: 0, GameB: int64(i), Score: 1 / float64(i), Rank: i})
	}
	err := suite.ReplaceAll(ctx, rows)
	suite.NoError(err)
	count, err := suite.Count(ctx)
	suite.NoError(err)
	suite.Equal(int64(2500), count)
	neighbors, err := suite.Neighbors(ctx, 0, 30)
	suite.NoError(err)
	suite.Len(neighbors, 30)
	for i, neighbor := range neighbors {
		suite.Equal(int64(i+1), neighbor.GameId, fmt.Sprintf("position %d", i))
	}
}
