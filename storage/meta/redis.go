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
	"time"

	"github.com/juju/errors"
	"github.com/redis/go-redis/v9"
)

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis keeps every lock in a key with a TTL.
type Redis struct {
	client *redis.Client
	prefix string
}

func (r *Redis) key(name string) string {
	return r.prefix + "lock:" + name
}

func (r *Redis) Init() error {
	return r.client.Ping(context.Background()).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) TryLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.key(name), owner, ttl).Result()
	if err != nil {
		return false, errors.Trace(err)
	}
	return ok, nil
}

func (r *Redis) Unlock(ctx context.Context, name, owner string) error {
	if err := unlockScript.Run(ctx, r.client, []string{r.key(name)}, owner).Err(); err != nil && err != redis.Nil {
		return errors.Trace(err)
	}
	return nil
}
