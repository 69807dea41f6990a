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

package meta

import (
	"context"
	"strings"
	"time"

	"github.com/gamedex/gamerec/storage"
	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
)

// Locker holds advisory locks shared by every process connected to the same store.
type Locker interface {
	Init() error
	Close() error
	// TryLock acquires the lock if it is free or expired. It never blocks.
	TryLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	// Unlock releases the lock if it is still held by owner.
	Unlock(ctx context.Context, name, owner string) error
}

// NewOwner returns a unique lock owner.
func NewOwner() string {
	return uuid.NewString()
}

// Open a connection to a meta store.
func Open(path, tablePrefix string, opts ...storage.Option) (Locker, error) {
	if strings.HasPrefix(path, storage.RedisPrefix) || strings.HasPrefix(path, storage.RedissPrefix) {
		opt, err := redis.ParseURL(path)
		if err != nil {
			return nil, errors.Trace(err)
		}
		client := redis.NewClient(opt)
		if err = redisotel.InstrumentTracing(client); err != nil {
			return nil, errors.Trace(err)
		}
		return &Redis{client: client, prefix: tablePrefix}, nil
	}
	conn, err := storage.OpenSQL(path, tablePrefix, opts...)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &SQL{TablePrefix: storage.TablePrefix(tablePrefix), conn: conn}, nil
}
