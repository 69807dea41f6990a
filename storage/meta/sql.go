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
	"database/sql"
	"fmt"
	"time"

	"github.com/gamedex/gamerec/storage"
	"github.com/juju/errors"
)

// SQL keeps locks in a table of the SQL store. Expiry is stored in unix
// milliseconds so that all drivers compare it the same way.
type SQL struct {
	storage.TablePrefix
	conn *storage.SQLConn
}

func (s *SQL) Close() error {
	return s.conn.Close()
}

func (s *SQL) Init() error {
	_, err := s.conn.Client.Exec(fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	name VARCHAR(256) NOT NULL PRIMARY KEY,
	owner VARCHAR(64) NOT NULL,
	expires_at BIGINT NOT NULL
)`, s.LocksTable()))
	return errors.Trace(err)
}

func (s *SQL) TryLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	p := s.conn.Driver.Placeholder
	now := time.Now()
	tx, err := s.conn.Client.BeginTx(ctx, nil)
	if err != nil {
		return false, errors.Trace(err)
	}
	defer func() { _ = tx.Rollback() }()
	// steal expired lock, or refresh a lock held by the same owner
	if _, err = tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE name = %s AND (expires_at < %s OR owner = %s)",
		s.LocksTable(), p(1), p(2), p(3)), name, now.UnixMilli(), owner); err != nil {
		return false, errors.Trace(err)
	}
	var insert string
	switch s.conn.Driver {
	case storage.MySQL:
		insert = "INSERT IGNORE INTO %s (name, owner, expires_at) VALUES (%s, %s, %s)"
	default:
		insert = "INSERT INTO %s (name, owner, expires_at) VALUES (%s, %s, %s) ON CONFLICT (name) DO NOTHING"
	}
	result, err := tx.ExecContext(ctx, fmt.Sprintf(insert, s.LocksTable(), p(1), p(2), p(3)),
		name, owner, now.Add(ttl).UnixMilli())
	if err != nil {
		return false, errors.Trace(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, errors.Trace(err)
	}
	if err = tx.Commit(); err != nil {
		return false, errors.Trace(err)
	}
	return affected == 1, nil
}

func (s *SQL) Unlock(ctx context.Context, name, owner string) error {
	p := s.conn.Driver.Placeholder
	_, err := s.conn.Client.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE name = %s AND owner = %s",
		s.LocksTable(), p(1), p(2)), name, owner)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return errors.Trace(err)
	}
	return nil
}
