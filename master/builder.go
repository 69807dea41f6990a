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

package master

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/gamedex/gamerec/base/log"
	"github.com/gamedex/gamerec/common/heap"
	"github.com/gamedex/gamerec/common/parallel"
	"github.com/gamedex/gamerec/config"
	"github.com/gamedex/gamerec/storage/cache"
	"github.com/gamedex/gamerec/storage/data"
	"github.com/gamedex/gamerec/storage/meta"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

var (
	// ErrInsufficientData means there are too few ratings to build a snapshot.
	// The store is left untouched.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrBatchInProgress means another process holds the batch lock.
	ErrBatchInProgress = errors.New("similarity batch in progress")
)

const (
	LockSimilarityBatch = "similarity_batch"

	scanBatchSize = 10000
	underflow     = 1e-12
)

// BatchReport summarizes a similarity batch.
type BatchReport struct {
	Ratings   int
	Users     int
	Games     int
	Pairs     int
	MeanScore float64
	MaxScore  float64
	MinScore  float64
	MeanRank  float64
	DryRun    bool
	Elapsed   time.Duration
	Rows      []cache.Similarity
}

// SimilarityBuilder builds the item-to-item cosine similarity snapshot from
// positive ratings and swaps it into the similarity store.
type SimilarityBuilder struct {
	DataClient  data.Database
	CacheClient cache.Database
	Locker      meta.Locker
	Config      config.SimilarityConfig
	DryRun      bool
	Monitor     *TaskMonitor
}

func NewSimilarityBuilder(dataClient data.Database, cacheClient cache.Database, locker meta.Locker, cfg config.SimilarityConfig) *SimilarityBuilder {
	return &SimilarityBuilder{
		DataClient:  dataClient,
		CacheClient: cacheClient,
		Locker:      locker,
		Config:      cfg,
		Monitor:     NewTaskMonitor(),
	}
}

// Build runs the batch while holding the batch lock.
func (b *SimilarityBuilder) Build(ctx context.Context) (*BatchReport, error) {
	if b.Locker != nil {
		owner := meta.NewOwner()
		locked, err := b.Locker.TryLock(ctx, LockSimilarityBatch, owner, b.Config.LockTTL)
		if err != nil {
			return nil, errors.Annotate(err, "failed to acquire batch lock")
		}
		if !locked {
			BuildSimilarityRunsTotal.WithLabelValues("in_progress").Inc()
			return nil, ErrBatchInProgress
		}
		defer func() {
			if err := b.Locker.Unlock(context.Background(), LockSimilarityBatch, owner); err != nil {
				log.Logger().Error("failed to release batch lock", zap.Error(err))
			}
		}()
	}
	report, err := b.build(ctx)
	switch {
	case err == nil:
		BuildSimilarityRunsTotal.WithLabelValues("success").Inc()
	case errors.Is(err, ErrInsufficientData):
		BuildSimilarityRunsTotal.WithLabelValues("insufficient_data").Inc()
	default:
		BuildSimilarityRunsTotal.WithLabelValues("failure").Inc()
	}
	return report, err
}

// sparse matrix entry
type entry struct {
	index int32
	value float64
}

type candidate struct {
	other int32
	score float64
	rank  int
}

func (b *SimilarityBuilder) build(ctx context.Context) (*BatchReport, error) {
	start := time.Now()
	monitor := b.Monitor
	if monitor == nil {
		monitor = NewTaskMonitor()
	}
	report := &BatchReport{DryRun: b.DryRun}

	// load positive ratings
	stepStart := time.Now()
	monitor.Start(TaskLoadRatings, 0)
	var ratings []data.Rating
	if err := b.DataClient.ScanPositiveRatings(ctx, scanBatchSize, func(batch []data.Rating) error {
		ratings = append(ratings, batch...)
		monitor.Update(TaskLoadRatings, len(ratings))
		return nil
	}); err != nil {
		monitor.Fail(TaskLoadRatings)
		return nil, errors.Annotate(err, "failed to load ratings")
	}
	monitor.Finish(TaskLoadRatings)
	report.Ratings = len(ratings)
	RatingsTotal.Set(float64(len(ratings)))
	BuildSimilarityStepSecondsVec.WithLabelValues("load_ratings").Set(time.Since(stepStart).Seconds())
	if len(ratings) < b.Config.MinTotalRatings {
		log.Logger().Warn("too few ratings to build similarity",
			zap.Int("n_ratings", len(ratings)), zap.Int("min_total_ratings", b.Config.MinTotalRatings))
		return nil, ErrInsufficientData
	}

	// drop games with too few ratings
	counts := make(map[int64]int)
	for _, rating := range ratings {
		counts[rating.GameId]++
	}
	gameIds := lo.Filter(lo.Keys(counts), func(gameId int64, _ int) bool {
		return counts[gameId] >= b.Config.MinRatings
	})
	if len(gameIds) < 2 {
		log.Logger().Warn("too few games to build similarity",
			zap.Int("n_games", len(gameIds)), zap.Int("min_ratings", b.Config.MinRatings))
		return nil, ErrInsufficientData
	}
	// ascending indices follow ascending game ids, so ties broken by index are broken by id
	sort.Slice(gameIds, func(i, j int) bool { return gameIds[i] < gameIds[j] })
	gameIndex := make(map[int64]int32, len(gameIds))
	for i, gameId := range gameIds {
		gameIndex[gameId] = int32(i)
	}
	userIds := lo.Uniq(lo.FilterMap(ratings, func(rating data.Rating, _ int) (string, bool) {
		_, kept := gameIndex[rating.GameId]
		return rating.UserId, kept
	}))
	sort.Strings(userIds)
	userIndex := make(map[string]int32, len(userIds))
	for i, userId := range userIds {
		userIndex[userId] = int32(i)
	}
	report.Games = len(gameIds)
	report.Users = len(userIds)
	GamesTotal.Set(float64(len(gameIds)))
	UsersTotal.Set(float64(len(userIds)))

	// build the sparse game-by-user matrix and its transpose
	rows := make([][]entry, len(gameIds))
	for _, rating := range ratings {
		if g, kept := gameIndex[rating.GameId]; kept {
			rows[g] = append(rows[g], entry{index: userIndex[rating.UserId], value: rating.Score.Normalized()})
		}
	}
	ratings = nil
	columns := make([][]entry, len(userIds))
	for g, row := range rows {
		sort.Slice(row, func(i, j int) bool { return row[i].index < row[j].index })
		var norm float64
		for _, e := range row {
			norm += e.value * e.value
		}
		norm = math.Sqrt(norm)
		for k := range row {
			row[k].value /= norm
			columns[row[k].index] = append(columns[row[k].index], entry{index: int32(g), value: row[k].value})
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Trace(err)
	}

	// cosine similarity row by row, keeping the top k candidates of each row
	stepStart = time.Now()
	monitor.Start(TaskComputeSimilarity, len(rows))
	numJobs := max(b.Config.NumJobs, 1)
	buffers := make([][]float64, numJobs)
	candidates := make([][]candidate, len(rows))
	err := parallel.Parallel(ctx, len(rows), numJobs, func(workerId, i int) error {
		if buffers[workerId] == nil {
			buffers[workerId] = make([]float64, len(rows))
		}
		dot := buffers[workerId]
		var touched []int32
		for _, e := range rows[i] {
			for _, f := range columns[e.index] {
				if dot[f.index] == 0 {
					touched = append(touched, f.index)
				}
				dot[f.index] += e.value * f.value
			}
		}
		filter := heap.NewTopKFilter[int32, float64](b.Config.TopK)
		push := func(j int32) {
			if int(j) == i {
				return
			}
			score := dot[j]
			if math.Abs(score) < underflow {
				score = 0
			}
			score = math.Min(score, 1)
			if score >= b.Config.MinSimilarity {
				filter.Push(j, score)
			}
		}
		if b.Config.MinSimilarity > 0 {
			for _, j := range touched {
				push(j)
			}
		} else {
			// games sharing no user still qualify with a zero score
			for j := range rows {
				push(int32(j))
			}
		}
		for _, j := range touched {
			dot[j] = 0
		}
		elems := filter.PopAll()
		candidates[i] = make([]candidate, len(elems))
		for k, elem := range elems {
			candidates[i][k] = candidate{other: elem.Value, score: elem.Weight, rank: k + 1}
		}
		monitor.Add(TaskComputeSimilarity, 1)
		return nil
	})
	if err != nil {
		monitor.Fail(TaskComputeSimilarity)
		return nil, errors.Trace(err)
	}
	monitor.Finish(TaskComputeSimilarity)
	BuildSimilarityStepSecondsVec.WithLabelValues("compute_similarity").Set(time.Since(stepStart).Seconds())

	// merge both directions of every pair
	pairs := make(map[[2]int32]candidate)
	for i, row := range candidates {
		for _, c := range row {
			key := [2]int32{min(int32(i), c.other), max(int32(i), c.other)}
			if prev, exist := pairs[key]; exist {
				c.score = math.Max(c.score, prev.score)
				c.rank = min(c.rank, prev.rank)
			}
			pairs[key] = c
		}
	}
	keys := lo.Keys(pairs)
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})
	calculatedAt := time.Now().UTC()
	report.Rows = make([]cache.Similarity, len(keys))
	for k, key := range keys {
		report.Rows[k] = cache.Similarity{
			GameA:        gameIds[key[0]],
			GameB:        gameIds[key[1]],
			Score:        pairs[key].score,
			Rank:         pairs[key].rank,
			CalculatedAt: calculatedAt,
		}
	}
	report.summarize()
	SimilarityPairsTotal.Set(float64(report.Pairs))
	if err = ctx.Err(); err != nil {
		return nil, errors.Trace(err)
	}

	// swap the snapshot, no longer cancellable from here
	if !b.DryRun {
		stepStart = time.Now()
		monitor.Start(TaskReplaceSimilarity, len(report.Rows))
		if err = b.CacheClient.ReplaceAll(context.WithoutCancel(ctx), report.Rows); err != nil {
			monitor.Fail(TaskReplaceSimilarity)
			return nil, errors.Annotate(err, "failed to replace similarity")
		}
		monitor.Finish(TaskReplaceSimilarity)
		BuildSimilarityStepSecondsVec.WithLabelValues("replace_similarity").Set(time.Since(stepStart).Seconds())
	}
	report.Elapsed = time.Since(start)
	BuildSimilarityTotalSeconds.Set(report.Elapsed.Seconds())
	log.Logger().Info("complete building similarity",
		zap.Int("n_ratings", report.Ratings),
		zap.Int("n_users", report.Users),
		zap.Int("n_games", report.Games),
		zap.Int("n_pairs", report.Pairs),
		zap.Bool("dry_run", report.DryRun),
		zap.Duration("elapsed", report.Elapsed))
	return report, nil
}

func (r *BatchReport) summarize() {
	r.Pairs = len(r.Rows)
	if r.Pairs == 0 {
		return
	}
	r.MinScore = math.Inf(1)
	r.MaxScore = math.Inf(-1)
	var sumScore, sumRank float64
	for _, row := range r.Rows {
		sumScore += row.Score
		sumRank += float64(row.Rank)
		r.MinScore = math.Min(r.MinScore, row.Score)
		r.MaxScore = math.Max(r.MaxScore, row.Score)
	}
	r.MeanScore = sumScore / float64(r.Pairs)
	r.MeanRank = sumRank / float64(r.Pairs)
}
