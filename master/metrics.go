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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	LabelStep   = "step"
	LabelResult = "result"
)

var (
	BuildSimilarityStepSecondsVec = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gamerec",
		Subsystem: "master",
		Name:      "build_similarity_step_seconds",
	}, []string{LabelStep})
	BuildSimilarityTotalSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gamerec",
		Subsystem: "master",
		Name:      "build_similarity_total_seconds",
	})
	BuildSimilarityRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gamerec",
		Subsystem: "master",
		Name:      "build_similarity_runs_total",
	}, []string{LabelResult})
	RatingsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gamerec",
		Subsystem: "master",
		Name:      "ratings_total",
	})
	UsersTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gamerec",
		Subsystem: "master",
		Name:      "users_total",
	})
	GamesTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gamerec",
		Subsystem: "master",
		Name:      "games_total",
	})
	SimilarityPairsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gamerec",
		Subsystem: "master",
		Name:      "similarity_pairs_total",
	})
)
