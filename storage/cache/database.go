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
	"time"

	"github.com/gamedex/gamerec/storage"
	"github.com/juju/errors"
)

// Similarity is the cosine similarity between two games. GameA is always less
// than GameB and Rank is the best position the pair reached from either side.
type Similarity struct {
	GameA        int64     `gorm:"column:game_a;primaryKey;autoIncrement:false;index:idx_similarity_a_rank,priority:1" json:"game_a"`
	GameB        int64     `gorm:"column:game_b;primaryKey;autoIncrement:false;index:idx_similarity_b_rank,priority:1" json:"game_b"`
	Score        float64   `gorm:"column:score;not null" json:"score"`
	Rank         int       `gorm:"column:rank;not null;index:idx_similarity_a_rank,priority:2;index:idx_similarity_b_rank,priority:2" json:"rank"`
	CalculatedAt time.Time `gorm:"column:calculated_at;not null" json:"calculated_at"`
}

// Neighbor is a game similar to an anchor.
type Neighbor struct {
	GameId int64   `json:"game_id"`
	Score  float64 `json:"score"`
	Rank   int     `json:"rank"`
}

// Database is the store of the similarity snapshot.
type Database interface {
	Init() error
	Ping() error
	Close() error
	Purge() error

	// Neighbors returns games similar to the anchor with rank no worse than maxRank.
	// A non-positive maxRank means no limit.
	Neighbors(ctx context.Context, anchor int64, maxRank int) ([]Neighbor, error)
	// ReplaceAll swaps the snapshot. Readers observe either the old or the new rows.
	ReplaceAll(ctx context.Context, rows []Similarity) error
	Count(ctx context.Context) (int64, error)
	Scan(ctx context.Context) ([]Similarity, error)
	LastCalculatedAt(ctx context.Context) (time.Time, error)
}

// Open a connection to a SQL cache store.
func Open(path, tablePrefix string, opts ...storage.Option) (Database, error) {
	conn, err := storage.OpenSQL(path, tablePrefix, opts...)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &SQLDatabase{
		TablePrefix: storage.TablePrefix(tablePrefix),
		conn:        conn,
		gormDB:      conn.Gorm,
		batchSize:   storage.NewOptions(opts...).InsertBatchSize,
	}, nil
}
