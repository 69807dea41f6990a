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

package data

import (
	"encoding/json"
	"strconv"

	"github.com/juju/errors"
)

// Score is an explicit rating persisted as twice its ordinal value, so the
// ordinal scale {-1, 0, 3.5, 5} is stored as the integers {-2, 0, 7, 10}.
type Score int8

const (
	ScoreNegative     Score = -2
	ScoreSkip         Score = 0
	ScorePositive     Score = 7
	ScoreVeryPositive Score = 10
)

// ParseScore converts an ordinal score into a Score.
func ParseScore(ordinal float64) (Score, error) {
	switch ordinal {
	case -1:
		return ScoreNegative, nil
	case 0:
		return ScoreSkip, nil
	case 3.5:
		return ScorePositive, nil
	case 5:
		return ScoreVeryPositive, nil
	}
	return 0, errors.NotValidf("score %v (must be one of -1, 0, 3.5, 5)", ordinal)
}

// Valid reports whether the code belongs to the score scale.
func (s Score) Valid() bool {
	switch s {
	case ScoreNegative, ScoreSkip, ScorePositive, ScoreVeryPositive:
		return true
	}
	return false
}

// Ordinal returns the user-facing value.
func (s Score) Ordinal() float64 {
	return float64(s) / 2
}

// Normalized returns the value used by similarity arithmetic.
func (s Score) Normalized() float64 {
	switch s {
	case ScoreNegative:
		return -1
	case ScorePositive:
		return 0.7
	case ScoreVeryPositive:
		return 1
	}
	return 0
}

// Liked reports whether the score is positive.
func (s Score) Liked() bool {
	return s >= ScorePositive
}

func (s Score) String() string {
	return strconv.FormatFloat(s.Ordinal(), 'f', -1, 64)
}

func (s Score) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Ordinal())
}

func (s *Score) UnmarshalJSON(b []byte) error {
	var ordinal float64
	if err := json.Unmarshal(b, &ordinal); err != nil {
		return errors.NotValidf("score %s", string(b))
	}
	score, err := ParseScore(ordinal)
	if err != nil {
		return err
	}
	*s = score
	return nil
}
