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
	"sort"
	"time"

	"github.com/gamedex/gamerec/storage"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var rankColumn = clause.Column{Name: "rank"}

// SQLDatabase stores the similarity snapshot in MySQL, Postgres or SQLite.
type SQLDatabase struct {
	storage.TablePrefix
	conn       *storage.SQLConn
	gormDB     *gorm.DB
	batchSize  int
	insertHook func(batch int) error
}

// SetInsertHook registers a function called before every insert batch of ReplaceAll.
// An error returned by the hook aborts the replacement.
func (d *SQLDatabase) SetInsertHook(hook func(batch int) error) {
	d.insertHook = hook
}

func (d *SQLDatabase) Init() error {
	return errors.Trace(d.gormDB.Table(d.SimilarityTable()).AutoMigrate(&Similarity{}))
}

func (d *SQLDatabase) Ping() error {
	return d.conn.Client.Ping()
}

func (d *SQLDatabase) Close() error {
	return d.conn.Close()
}

func (d *SQLDatabase) Purge() error {
	return errors.Trace(d.gormDB.Exec(fmt.Sprintf("DELETE FROM %s", d.SimilarityTable())).Error)
}

// Neighbors looks the anchor up on both sides of the pair: rows store the smaller
// game in game_a, so an anchor may appear in either column.
func (d *SQLDatabase) Neighbors(ctx context.Context, anchor int64, maxRank int) ([]Neighbor, error) {
	start := time.Now()
	var neighbors []Neighbor
	for _, side := range []struct {
		anchor string
		other  string
	}{
		{"game_a", "game_b"},
		{"game_b", "game_a"},
	} {
		tx := d.gormDB.WithContext(ctx).Table(d.SimilarityTable()).Where(side.anchor+" = ?", anchor)
		if maxRank > 0 {
			tx = tx.Where(clause.Lte{Column: rankColumn, Value: maxRank})
		}
		var rows []Similarity
		if err := tx.Find(&rows).Error; err != nil {
			return nil, errors.Trace(err)
		}
		for _, row := range rows {
			other := row.GameB
			if side.other == "game_a" {
				other = row.GameA
			}
			neighbors = append(neighbors, Neighbor{GameId: other, Score: row.Score, Rank: row.Rank})
		}
	}
	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].Score != neighbors[j].Score {
			return neighbors[i].Score > neighbors[j].Score
		}
		return neighbors[i].GameId < neighbors[j].GameId
	})
	NeighborsSeconds.Observe(time.Since(start).Seconds())
	return neighbors, nil
}

// ReplaceAll deletes the snapshot and inserts rows in one transaction. Once
// started it runs to the end regardless of cancellation of ctx.
func (d *SQLDatabase) ReplaceAll(ctx context.Context, rows []Similarity) error {
	now := time.Now().UTC()
	for i := range rows {
		if rows[i].GameA >= rows[i].GameB {
			return errors.NotValidf("similarity (%d, %d) out of order", rows[i].GameA, rows[i].GameB)
		}
		if rows[i].Rank < 1 {
			return errors.NotValidf("rank %d of similarity (%d, %d)", rows[i].Rank, rows[i].GameA, rows[i].GameB)
		}
		if rows[i].CalculatedAt.IsZero() {
			rows[i].CalculatedAt = now
		}
	}
	start := time.Now()
	err := d.gormDB.WithContext(context.WithoutCancel(ctx)).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(fmt.Sprintf("DELETE FROM %s", d.SimilarityTable())).Error; err != nil {
			return errors.Trace(err)
		}
		for i, chunk := range lo.Chunk(rows, d.batchSize) {
			if d.insertHook != nil {
				if err := d.insertHook(i); err != nil {
					return errors.Annotate(err, "failed to insert similarities")
				}
			}
			if err := tx.Table(d.SimilarityTable()).Create(&chunk).Error; err != nil {
				return errors.Annotate(err, "failed to insert similarities")
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	ReplaceAllSeconds.Observe(time.Since(start).Seconds())
	return nil
}

func (d *SQLDatabase) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := d.gormDB.WithContext(ctx).Table(d.SimilarityTable()).Count(&count).Error; err != nil {
		return 0, errors.Trace(err)
	}
	return count, nil
}

// Scan returns the whole snapshot ordered by pair.
func (d *SQLDatabase) Scan(ctx context.Context) ([]Similarity, error) {
	var rows []Similarity
	if err := d.gormDB.WithContext(ctx).Table(d.SimilarityTable()).
		Order("game_a").Order("game_b").Find(&rows).Error; err != nil {
		return nil, errors.Trace(err)
	}
	return rows, nil
}

// LastCalculatedAt returns when the snapshot was built. It is zero for an empty snapshot.
func (d *SQLDatabase) LastCalculatedAt(ctx context.Context) (time.Time, error) {
	var row Similarity
	err := d.gormDB.WithContext(ctx).Table(d.SimilarityTable()).Order("calculated_at DESC").Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	} else if err != nil {
		return time.Time{}, errors.Trace(err)
	}
	return row.CalculatedAt, nil
}
