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
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gamedex/gamerec/common/heap"
	"github.com/gamedex/gamerec/storage/cache"
	"github.com/gamedex/gamerec/storage/data"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

// ScoredGame is a candidate of the item-to-item scorer. Anchor is the liked
// game contributing most to the score.
type ScoredGame struct {
	GameId int64
	Score  float64
	Anchor int64
}

// ItemToItem scores candidates by the rating-weighted mean similarity to the
// games a user liked.
type ItemToItem struct {
	cacheClient cache.Database
	maxRank     int
}

func NewItemToItem(cacheClient cache.Database, maxRank int) *ItemToItem {
	return &ItemToItem{cacheClient: cacheClient, maxRank: maxRank}
}

func (s *ItemToItem) Recommend(ctx context.Context, liked map[int64]data.Score, exclude mapset.Set[int64], n int) ([]ScoredGame, error) {
	// anchors in a fixed order keep floating point sums reproducible
	anchors := lo.Keys(liked)
	sort.Slice(anchors, func(i, j int) bool { return anchors[i] < anchors[j] })
	weightedSum := make(map[int64]float64)
	weightSum := make(map[int64]float64)
	best := make(map[int64]lo.Tuple2[int64, float64])
	for _, anchor := range anchors {
		weight := liked[anchor].Normalized()
		neighbors, err := s.cacheClient.Neighbors(ctx, anchor, s.maxRank)
		if err != nil {
			return nil, errors.Trace(err)
		}
		for _, neighbor := range neighbors {
			if exclude.Contains(neighbor.GameId) {
				continue
			}
			contribution := neighbor.Score * weight
			weightedSum[neighbor.GameId] += contribution
			weightSum[neighbor.GameId] += weight
			if prev, exist := best[neighbor.GameId]; !exist || contribution > prev.B {
				best[neighbor.GameId] = lo.T2(anchor, contribution)
			}
		}
	}
	filter := heap.NewTopKFilter[int64, float64](n)
	for gameId, weight := range weightSum {
		if weight > 0 {
			filter.Push(gameId, weightedSum[gameId]/weight)
		}
	}
	return lo.Map(filter.PopAll(), func(elem heap.Elem[int64, float64], _ int) ScoredGame {
		return ScoredGame{GameId: elem.Value, Score: elem.Weight, Anchor: best[elem.Value].A}
	}), nil
}
