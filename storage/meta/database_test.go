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

	"github.com/stretchr/testify/suite"
)

type baseTestSuite struct {
	suite.Suite
	Locker
}

func (suite *baseTestSuite) TestTryLock() {
	ctx := context.Background()
	alice, bob := NewOwner(), NewOwner()
	suite.NotEqual(alice, bob)

	ok, err := suite.TryLock(ctx, "similarity_batch", alice, time.Minute)
	suite.NoError(err)
	suite.True(ok)
	// held by another owner
	ok, err = suite.TryLock(ctx, "similarity_batch", bob, time.Minute)
	suite.NoError(err)
	suite.False(ok)
	// other locks are independent
	ok, err = suite.TryLock(ctx, "other", bob, time.Minute)
	suite.NoError(err)
	suite.True(ok)
	suite.NoError(suite.Unlock(ctx, "other", bob))

	// only the owner unlocks
	suite.NoError(suite.Unlock(ctx, "similarity_batch", bob))
	ok, err = suite.TryLock(ctx, "similarity_batch", bob, time.Minute)
	suite.NoError(err)
	suite.False(ok)
	suite.NoError(suite.Unlock(ctx, "similarity_batch", alice))
	ok, err = suite.TryLock(ctx, "similarity_batch", bob, time.Minute)
	suite.NoError(err)
	suite.True(ok)
	suite.NoError(suite.Unlock(ctx, "similarity_batch", bob))
}

func (suite *baseTestSuite) TestExpiredLock() {
	ctx := context.Background()
	alice, bob := NewOwner(), NewOwner()
	ok, err := suite.TryLock(ctx, "expired", alice, 10*time.Millisecond)
	suite.NoError(err)
	suite.True(ok)
	time.Sleep(50 * time.Millisecond)
	ok, err = suite.TryLock(ctx, "expired", bob, time.Minute)
	suite.NoError(err)
	suite.True(ok)
	// stale owner can not release the stolen lock
	suite.NoError(suite.Unlock(ctx, "expired", alice))
	ok, err = suite.TryLock(ctx, "expired", alice, time.Minute)
	suite.NoError(err)
	suite.False(ok)
	suite.NoError(suite.Unlock(ctx, "expired", bob))
}
