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

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gamedex/gamerec/base/log"
	"github.com/gamedex/gamerec/cmd/version"
	"github.com/gamedex/gamerec/config"
	"github.com/gamedex/gamerec/master"
	"github.com/gamedex/gamerec/storage/cache"
	"github.com/gamedex/gamerec/storage/data"
	"github.com/gamedex/gamerec/storage/meta"
	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

const (
	exitOK               = 0
	exitInvalidConfig    = 1
	exitInsufficientData = 2
	exitStoreFailure     = 3
)

func newBatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gamerec-batch",
		Short: "Rebuild the item-to-item similarity snapshot.",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			code := runBatch(ctx, cmd.Flags(), os.Stdout)
			stop()
			os.Exit(code)
		},
	}
	flags := cmd.Flags()
	flags.BoolP("version", "v", false, "show version")
	flags.Bool("debug", false, "use debug log mode")
	flags.StringP("config", "c", "", "configuration file path")
	flags.Int("min-ratings", 3, "minimum positive ratings of a game")
	flags.Int("top-k", 50, "neighbors kept per game")
	flags.Float64("min-similarity", 0.1, "minimum similarity of a stored pair")
	flags.Int("min-total-ratings", 10, "minimum positive ratings of a batch")
	flags.Bool("dry-run", false, "compute without replacing the snapshot")
	flags.Bool("wait", false, "wait for a running batch to finish")
	flags.Duration("max-wait", 30*time.Minute, "maximum time to wait for a running batch")
	flags.Bool("progress", false, "show progress bars")
	log.AddFlags(flags)
	return cmd
}

// runBatch runs one batch and returns the exit code.
func runBatch(ctx context.Context, flags *pflag.FlagSet, out io.Writer) int {
	if showVersion, _ := flags.GetBool("version"); showVersion {
		fmt.Fprint(out, version.BuildInfo())
		return exitOK
	}
	debug, _ := flags.GetBool("debug")
	if err := log.SetLogger(flags, debug, "gamerec-batch"); err != nil {
		fmt.Fprintln(out, err)
		return exitInvalidConfig
	}
	defer log.Sync()

	configPath, _ := flags.GetString("config")
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Logger().Error("failed to load config", zap.String("path", configPath), zap.Error(err))
		return exitInvalidConfig
	}
	if err = overrideConfig(cfg, flags); err != nil {
		log.Logger().Error("invalid flags", zap.Error(err))
		return exitInvalidConfig
	}

	dataClient, err := data.Open(cfg.Database.DataStore, cfg.Database.DataTablePrefix, cfg.Database.SQLOptions()...)
	if err != nil {
		log.Logger().Error("failed to connect data store", zap.String("database", log.RedactDBURL(cfg.Database.DataStore)), zap.Error(err))
		return exitStoreFailure
	}
	defer dataClient.Close()
	cacheClient, err := cache.Open(cfg.Database.CacheStore, cfg.Database.CacheTablePrefix, cfg.Database.SQLOptions()...)
	if err != nil {
		log.Logger().Error("failed to connect cache store", zap.String("database", log.RedactDBURL(cfg.Database.CacheStore)), zap.Error(err))
		return exitStoreFailure
	}
	defer cacheClient.Close()
	metaClient, err := meta.Open(cfg.Database.MetaStore, cfg.Database.CacheTablePrefix, cfg.Database.SQLOptions()...)
	if err != nil {
		log.Logger().Error("failed to connect meta store", zap.String("database", log.RedactDBURL(cfg.Database.MetaStore)), zap.Error(err))
		return exitStoreFailure
	}
	defer metaClient.Close()
	for _, initStore := range []func() error{dataClient.Init, cacheClient.Init, metaClient.Init} {
		if err = initStore(); err != nil {
			log.Logger().Error("failed to init stores", zap.Error(err))
			return exitStoreFailure
		}
	}

	builder := master.NewSimilarityBuilder(dataClient, cacheClient, metaClient, cfg.Similarity)
	builder.DryRun, _ = flags.GetBool("dry-run")
	if progress, _ := flags.GetBool("progress"); progress {
		bars := newProgressBars()
		builder.Monitor.OnUpdate(bars.update)
		defer bars.finish()
	}

	var report *master.BatchReport
	if wait, _ := flags.GetBool("wait"); wait {
		maxWait, _ := flags.GetDuration("max-wait")
		report, err = backoff.Retry(ctx, func() (*master.BatchReport, error) {
			report, err := builder.Build(ctx)
			if err != nil && !errors.Is(err, master.ErrBatchInProgress) {
				return nil, backoff.Permanent(err)
			}
			return report, err
		},
			backoff.WithBackOff(backoff.NewExponentialBackOff()),
			backoff.WithMaxElapsedTime(maxWait),
			backoff.WithNotify(func(err error, next time.Duration) {
				log.Logger().Info("another batch is running", zap.Duration("retry_after", next))
			}))
	} else {
		report, err = builder.Build(ctx)
	}
	switch {
	case err == nil:
	case errors.Is(err, master.ErrInsufficientData):
		fmt.Fprintf(out, "InsufficientData: %v\n", err)
		return exitInsufficientData
	case errors.Is(err, master.ErrBatchInProgress):
		fmt.Fprintf(out, "BatchInProgress: %v\n", err)
		return exitStoreFailure
	default:
		log.Logger().Error("failed to build similarity", zap.Error(err))
		return exitStoreFailure
	}
	if err = printReport(out, report); err != nil {
		log.Logger().Error("failed to print report", zap.Error(err))
	}
	return exitOK
}

// overrideConfig applies the flags set on the command line.
func overrideConfig(cfg *config.Config, flags *pflag.FlagSet) error {
	if flags.Changed("min-ratings") {
		cfg.Similarity.MinRatings, _ = flags.GetInt("min-ratings")
	}
	if flags.Changed("top-k") {
		cfg.Similarity.TopK, _ = flags.GetInt("top-k")
	}
	if flags.Changed("min-similarity") {
		cfg.Similarity.MinSimilarity, _ = flags.GetFloat64("min-similarity")
	}
	if flags.Changed("min-total-ratings") {
		cfg.Similarity.MinTotalRatings, _ = flags.GetInt("min-total-ratings")
	}
	return cfg.Validate()
}

func printReport(out io.Writer, report *master.BatchReport) error {
	table := tablewriter.NewWriter(out)
	table.Header("Metric", "Value")
	rows := [][]string{
		{"Ratings", strconv.Itoa(report.Ratings)},
		{"Users", strconv.Itoa(report.Users)},
		{"Games", strconv.Itoa(report.Games)},
		{"Pairs", strconv.Itoa(report.Pairs)},
		{"Mean score", strconv.FormatFloat(report.MeanScore, 'f', 4, 64)},
		{"Max score", strconv.FormatFloat(report.MaxScore, 'f', 4, 64)},
		{"Min score", strconv.FormatFloat(report.MinScore, 'f', 4, 64)},
		{"Mean rank", strconv.FormatFloat(report.MeanRank, 'f', 2, 64)},
		{"Dry run", strconv.FormatBool(report.DryRun)},
		{"Elapsed", report.Elapsed.Round(time.Millisecond).String()},
	}
	if err := table.Bulk(rows); err != nil {
		return errors.Trace(err)
	}
	return table.Render()
}

// progressBars draws one bar per batch step.
type progressBars struct {
	bars map[string]*progressbar.ProgressBar
}

func newProgressBars() *progressBars {
	return &progressBars{bars: make(map[string]*progressbar.ProgressBar)}
}

func (p *progressBars) update(task master.Task) {
	if task.Status == master.TaskStatusPending {
		return
	}
	bar, exist := p.bars[task.Name]
	if !exist {
		bar = progressbar.NewOptions(task.Total,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription(task.Name),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish())
		p.bars[task.Name] = bar
	}
	if bar.GetMax() != task.Total && task.Total > 0 {
		bar.ChangeMax(task.Total)
	}
	_ = bar.Set(task.Done)
	if task.Status == master.TaskStatusComplete || task.Status == master.TaskStatusFailed {
		_ = bar.Finish()
	}
}

func (p *progressBars) finish() {
	for _, bar := range p.bars {
		_ = bar.Exit()
	}
}

func main() {
	if err := newBatchCommand().Execute(); err != nil {
		log.Logger().Fatal("failed to execute", zap.Error(err))
	}
}
