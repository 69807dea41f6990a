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

package config

import (
	"runtime"
	"strings"
	"time"

	"github.com/gamedex/gamerec/storage"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/spf13/viper"
)

// Config is the configuration of gamerec services.
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Server     ServerConfig     `mapstructure:"server"`
	Onboarding OnboardingConfig `mapstructure:"onboarding"`
	Similarity SimilarityConfig `mapstructure:"similarity"`
	Recommend  RecommendConfig  `mapstructure:"recommend"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// DatabaseConfig is the configuration for the stores.
type DatabaseConfig struct {
	DataStore        string        `mapstructure:"data_store" validate:"required,sql_store"`
	CacheStore       string        `mapstructure:"cache_store" validate:"required,sql_store"`
	MetaStore        string        `mapstructure:"meta_store" validate:"required,meta_store"`
	DataTablePrefix  string        `mapstructure:"data_table_prefix"`
	CacheTablePrefix string        `mapstructure:"cache_table_prefix"`
	MaxOpenConns     int           `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns     int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime  time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`
}

// ServerConfig is the configuration for the REST server.
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port" validate:"gte=0"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	DefaultLimit   int           `mapstructure:"default_limit" validate:"gt=0,ltefield=MaxLimit"`
	MaxLimit       int           `mapstructure:"max_limit" validate:"gt=0"`
}

// SQLOptions returns the connection pool options of SQL stores.
func (c *DatabaseConfig) SQLOptions() []storage.Option {
	return []storage.Option{
		storage.WithMaxOpenConns(c.MaxOpenConns),
		storage.WithMaxIdleConns(c.MaxIdleConns),
		storage.WithConnMaxLifetime(c.ConnMaxLifetime),
	}
}

// OnboardingConfig is the configuration for seed catalogs and the onboarding flow.
type OnboardingConfig struct {
	SeedPath               string   `mapstructure:"seed_path"`
	SeedFilter             string   `mapstructure:"seed_filter" validate:"required"`
	SeedSort               string   `mapstructure:"seed_sort" validate:"required"`
	SeedSize               int      `mapstructure:"seed_size" validate:"gt=0"`
	PerPage                int      `mapstructure:"per_page" validate:"gte=1,lte=50"`
	CulturalTag            string   `mapstructure:"cultural_tag"`
	CulturalTitlePatterns  []string `mapstructure:"cultural_title_patterns"`
	RecalculateOnComplete  bool     `mapstructure:"recalculate_on_complete"`
	RecalculateMinRatings  int      `mapstructure:"recalculate_min_ratings" validate:"gte=0"`
	NeedsOnboardingRatings int      `mapstructure:"needs_onboarding_ratings" validate:"gt=0"`
}

// SimilarityConfig is the configuration for the similarity batch.
type SimilarityConfig struct {
	MinRatings      int           `mapstructure:"min_ratings" validate:"gte=1"`
	TopK            int           `mapstructure:"top_k" validate:"gt=0"`
	MinSimilarity   float64       `mapstructure:"min_similarity" validate:"gte=0,lte=1"`
	MinTotalRatings int           `mapstructure:"min_total_ratings" validate:"gte=0"`
	LockTTL         time.Duration `mapstructure:"lock_ttl" validate:"gt=0"`
	NumJobs         int           `mapstructure:"num_jobs" validate:"gte=1"`
}

// RecommendConfig is the configuration for the online recommender.
type RecommendConfig struct {
	MaxRank      int           `mapstructure:"max_rank" validate:"gt=0"`
	GameCacheTTL time.Duration `mapstructure:"game_cache_ttl" validate:"gte=0"`
}

var defaultTitlePatterns = []string{
	"메이플", "던전앤파이터", "리니지", "마비노기", "카트라이더", "바람의나라",
	"블레이드앤소울", "검은사막", "로스트아크", "쿠키런", "배틀그라운드",
	"MapleStory", "Lost Ark", "Black Desert", "PUBG", "Overwatch",
	"League of Legends", "StarCraft", "Dungeon Fighter", "Mabinogi", "Lineage",
	"Vindictus", "Blue Archive", "Cookie Run",
}

func setDefault(v *viper.Viper) {
	v.SetDefault("database.data_store", "sqlite://gamerec.db")
	v.SetDefault("database.cache_store", "sqlite://gamerec.db")
	v.SetDefault("database.meta_store", "sqlite://gamerec_meta.db")
	// [server]
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8087)
	v.SetDefault("server.request_timeout", 5*time.Second)
	v.SetDefault("server.default_limit", 50)
	v.SetDefault("server.max_limit", 100)
	// [onboarding]
	v.SetDefault("onboarding.seed_filter", "game.SteamRating >= 75 && game.ReviewCount >= 500")
	v.SetDefault("onboarding.seed_sort", "game.ReviewCount")
	v.SetDefault("onboarding.seed_size", 500)
	v.SetDefault("onboarding.per_page", 8)
	v.SetDefault("onboarding.cultural_tag", "korean")
	v.SetDefault("onboarding.cultural_title_patterns", defaultTitlePatterns)
	v.SetDefault("onboarding.recalculate_on_complete", true)
	v.SetDefault("onboarding.recalculate_min_ratings", 3)
	v.SetDefault("onboarding.needs_onboarding_ratings", 5)
	// [similarity]
	v.SetDefault("similarity.min_ratings", 3)
	v.SetDefault("similarity.top_k", 50)
	v.SetDefault("similarity.min_similarity", 0.1)
	v.SetDefault("similarity.min_total_ratings", 10)
	v.SetDefault("similarity.lock_ttl", time.Hour)
	v.SetDefault("similarity.num_jobs", runtime.NumCPU())
	// [recommend]
	v.SetDefault("recommend.max_rank", 30)
	v.SetDefault("recommend.game_cache_ttl", time.Minute)
	// [tracing]
	v.SetDefault("tracing.exporter", "otlp")
	v.SetDefault("tracing.sampler_ratio", 1.0)
}

// GetDefaultConfig returns the configuration used when no file is given.
func GetDefaultConfig() *Config {
	v := viper.New()
	setDefault(v)
	var conf Config
	if err := unmarshal(v, &conf); err != nil {
		panic(err)
	}
	return &conf
}

func unmarshal(v *viper.Viper, conf *Config) error {
	return v.Unmarshal(conf, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
}

// LoadConfig loads configuration from a TOML file. Environment variables
// override the file and an empty path means defaults plus environment.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefault(v)

	bindings := []struct {
		key string
		env string
	}{
		{"database.data_store", "GAMEREC_DATA_STORE"},
		{"database.cache_store", "GAMEREC_CACHE_STORE"},
		{"database.meta_store", "GAMEREC_META_STORE"},
		{"database.data_table_prefix", "GAMEREC_DATA_TABLE_PREFIX"},
		{"database.cache_table_prefix", "GAMEREC_CACHE_TABLE_PREFIX"},
		{"server.host", "GAMEREC_SERVER_HOST"},
		{"server.port", "GAMEREC_SERVER_PORT"},
		{"server.api_key", "GAMEREC_SERVER_API_KEY"},
		{"onboarding.seed_path", "GAMEREC_SEED_PATH"},
	}
	for _, binding := range bindings {
		if err := v.BindEnv(binding.key, binding.env); err != nil {
			return nil, errors.Trace(err)
		}
	}

	if path != "" {
		v.SetConfigType("toml")
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Trace(err)
		}
	}
	var conf Config
	if err := unmarshal(v, &conf); err != nil {
		return nil, errors.Trace(err)
	}
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &conf, nil
}

// Validate checks value ranges and store URLs.
func (config *Config) Validate() error {
	validate := validator.New()
	if err := validate.RegisterValidation("sql_store", func(fl validator.FieldLevel) bool {
		return hasAnyPrefix(fl.Field().String(), storage.SQLPrefixes)
	}); err != nil {
		return errors.Trace(err)
	}
	if err := validate.RegisterValidation("meta_store", func(fl validator.FieldLevel) bool {
		return hasAnyPrefix(fl.Field().String(), storage.MetaPrefixes)
	}); err != nil {
		return errors.Trace(err)
	}
	if err := validate.Struct(config); err != nil {
		return errors.NewNotValid(err, "invalid config")
	}
	return nil
}

func hasAnyPrefix(s string, prefixes []string) bool {
	return lo.ContainsBy(prefixes, func(prefix string) bool {
		return strings.HasPrefix(s, prefix)
	})
}
