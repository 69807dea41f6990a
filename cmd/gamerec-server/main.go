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
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gamedex/gamerec/base/log"
	"github.com/gamedex/gamerec/cmd/version"
	"github.com/gamedex/gamerec/config"
	"github.com/gamedex/gamerec/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serverCommand = &cobra.Command{
	Use:   "gamerec-server",
	Short: "The recommendation server of gamerec.",
	Run: func(cmd *cobra.Command, args []string) {
		// show version
		if showVersion, _ := cmd.PersistentFlags().GetBool("version"); showVersion {
			fmt.Println(version.BuildInfo())
			return
		}
		// setup logger
		debug, _ := cmd.PersistentFlags().GetBool("debug")
		if err := log.SetLogger(cmd.PersistentFlags(), debug, "gamerec-server"); err != nil {
			log.Logger().Fatal("failed to set logger", zap.Error(err))
		}
		defer log.Sync()

		configPath, _ := cmd.PersistentFlags().GetString("config")
		log.Logger().Info("load config", zap.String("config", configPath))
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			log.Logger().Fatal("failed to load config", zap.Error(err))
		}
		shutdownTracing, err := cfg.Tracing.InitTracing(context.Background(), "gamerec-server")
		if err != nil {
			log.Logger().Fatal("failed to init tracing", zap.Error(err))
		}

		s, err := server.NewServer(context.Background(), cfg)
		if err != nil {
			log.Logger().Fatal("failed to create server", zap.Error(err))
		}
		go s.Serve()

		done := make(chan os.Signal, 1)
		signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)
		<-done
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err = s.Shutdown(ctx); err != nil {
			log.Logger().Error("failed to shutdown server", zap.Error(err))
		}
		if err = shutdownTracing(ctx); err != nil {
			log.Logger().Error("failed to flush traces", zap.Error(err))
		}
		log.Logger().Info("server stopped")
	},
}

func init() {
	serverCommand.PersistentFlags().BoolP("version", "v", false, "gamerec version")
	serverCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	serverCommand.PersistentFlags().StringP("config", "c", "", "configuration file path")
	log.AddFlags(serverCommand.PersistentFlags())
}

func main() {
	if err := serverCommand.Execute(); err != nil {
		log.Logger().Fatal("failed to execute", zap.Error(err))
	}
}
