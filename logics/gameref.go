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
	"strconv"
	"strings"

	"github.com/gamedex/gamerec/storage/data"
	"github.com/juju/errors"
)

type GameRefKind int

const (
	// RefAuto is a bare number probed as a RAWG id first and a local id second.
	RefAuto GameRefKind = iota
	RefLocal
	RefExternal
)

// GameRef identifies a game either by local id or by RAWG id.
type GameRef struct {
	Kind GameRefKind
	Id   int64
}

func LocalRef(id int64) GameRef {
	return GameRef{Kind: RefLocal, Id: id}
}

func ExternalRef(id int64) GameRef {
	return GameRef{Kind: RefExternal, Id: id}
}

// ParseGameRef parses "local:12", "rawg:3498" or a bare positive number.
func ParseGameRef(s string) (GameRef, error) {
	kind := RefAuto
	raw := strings.TrimSpace(s)
	if prefix, value, found := strings.Cut(raw, ":"); found {
		switch strings.ToLower(prefix) {
		case "local":
			kind = RefLocal
		case "rawg":
			kind = RefExternal
		default:
			return GameRef{}, errors.NotValidf("game id %q", s)
		}
		raw = value
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return GameRef{}, errors.NotValidf("game id %q", s)
	}
	return GameRef{Kind: kind, Id: id}, nil
}

func (r GameRef) String() string {
	switch r.Kind {
	case RefLocal:
		return "local:" + strconv.FormatInt(r.Id, 10)
	case RefExternal:
		return "rawg:" + strconv.FormatInt(r.Id, 10)
	default:
		return strconv.FormatInt(r.Id, 10)
	}
}

// ResolveGame turns a reference into a local game. Unknown RAWG ids get a stub
// game so that ratings always point at a local row. Unknown local ids are NotFound.
func ResolveGame(ctx context.Context, dataClient data.Database, ref GameRef) (data.Game, error) {
	switch ref.Kind {
	case RefLocal:
		return dataClient.GetGame(ctx, ref.Id)
	case RefExternal:
		return resolveExternal(ctx, dataClient, ref.Id)
	default:
		game, err := dataClient.FindGameByRawgId(ctx, ref.Id)
		if err == nil || !errors.Is(err, errors.NotFound) {
			return game, err
		}
		game, err = dataClient.GetGame(ctx, ref.Id)
		if err == nil || !errors.Is(err, errors.NotFound) {
			return game, err
		}
		return dataClient.EnsureStubGame(ctx, ref.Id)
	}
}

func resolveExternal(ctx context.Context, dataClient data.Database, rawgId int64) (data.Game, error) {
	game, err := dataClient.FindGameByRawgId(ctx, rawgId)
	if err == nil || !errors.Is(err, errors.NotFound) {
		return game, err
	}
	return dataClient.EnsureStubGame(ctx, rawgId)
}

// LookupGame is ResolveGame without stub creation. Unknown games are NotFound.
func LookupGame(ctx context.Context, dataClient data.Database, ref GameRef) (data.Game, error) {
	switch ref.Kind {
	case RefLocal:
		return dataClient.GetGame(ctx, ref.Id)
	case RefExternal:
		return dataClient.FindGameByRawgId(ctx, ref.Id)
	default:
		game, err := dataClient.FindGameByRawgId(ctx, ref.Id)
		if err == nil || !errors.Is(err, errors.NotFound) {
			return game, err
		}
		return dataClient.GetGame(ctx, ref.Id)
	}
}
