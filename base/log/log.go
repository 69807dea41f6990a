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
package log

import (
	"net/url"
	"os"
	"strings"

	"github.com/emicklei/go-restful/v3"
	"github.com/go-sql-driver/mysql"
	"github.com/juju/errors"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const RequestIdHeader = "X-Request-ID"

const (
	flagLogLevel      = "log-level"
	flagLogPath       = "log-path"
	flagLogMaxSize    = "log-max-size"
	flagLogMaxAge     = "log-max-age"
	flagLogMaxBackups = "log-max-backups"
	flagLogCompress   = "log-compress"
)

var logger = zap.Must(zap.NewDevelopment())

// Logger get current logger
func Logger() *zap.Logger {
	return logger
}

// ResponseLogger returns a logger tagged with the request id of a response.
func ResponseLogger(resp *restful.Response) *zap.Logger {
	return logger.With(zap.String("request_id", resp.Header().Get(RequestIdHeader)))
}

// UserLogger returns a request logger also tagged with the user.
func UserLogger(resp *restful.Response, userId string) *zap.Logger {
	return ResponseLogger(resp).With(zap.String("user_id", userId))
}

// CloseLogger silences everything below fatal. Tests use it to keep output quiet.
func CloseLogger() {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.FatalLevel)
	logger = zap.Must(cfg.Build())
}

// Sync flushes buffered entries. Errors from syncing stdout are ignored.
func Sync() {
	_ = logger.Sync()
}

func AddFlags(flagSet *pflag.FlagSet) {
	flagSet.String(flagLogLevel, "", "minimum log level (debug, info, warn, error)")
	flagSet.String(flagLogPath, "", "path of log file")
	flagSet.Int(flagLogMaxSize, 100, "maximum size in megabytes of the log file")
	flagSet.Int(flagLogMaxAge, 0, "maximum number of days to retain old log files")
	flagSet.Int(flagLogMaxBackups, 0, "maximum number of old log files to retain")
	flagSet.Bool(flagLogCompress, false, "gzip rotated log files")
}

// SetLogger rebuilds the global logger from command line flags. Debug mode
// writes colored console lines at debug level, otherwise JSON at info level.
// Every entry carries the process name and pid so that server and batch
// logs can share a sink.
func SetLogger(flagSet *pflag.FlagSet, debug bool, process string) error {
	var encoder zapcore.Encoder
	level := zapcore.InfoLevel
	timeEncoder := zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.999999")
	if debug {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = timeEncoder
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(cfg)
		level = zapcore.DebugLevel
	} else {
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = timeEncoder
		encoder = zapcore.NewJSONEncoder(cfg)
	}
	writers := []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}
	if flagSet != nil {
		if text, _ := flagSet.GetString(flagLogLevel); text != "" {
			parsed, err := zapcore.ParseLevel(text)
			if err != nil {
				return errors.NotValidf("log level %q", text)
			}
			level = parsed
		}
		if flagSet.Changed(flagLogPath) {
			path, _ := flagSet.GetString(flagLogPath)
			maxSize, _ := flagSet.GetInt(flagLogMaxSize)
			maxAge, _ := flagSet.GetInt(flagLogMaxAge)
			maxBackups, _ := flagSet.GetInt(flagLogMaxBackups)
			compress, _ := flagSet.GetBool(flagLogCompress)
			writers = append(writers, zapcore.AddSync(&lumberjack.Logger{
				Filename:   path,
				MaxSize:    maxSize,
				MaxBackups: maxBackups,
				MaxAge:     maxAge,
				Compress:   compress,
			}))
		}
	}
	core := zapcore.NewCore(encoder, zap.CombineWriteSyncers(writers...), level)
	logger = zap.New(core, zap.AddCaller(), zap.Fields(
		zap.String("process", process),
		zap.Int("pid", os.Getpid()),
	))
	otel.SetErrorHandler(&errorHandler{})
	return nil
}

const mysqlPrefix = "mysql://"

// RedactDBURL masks credentials of a data source name before it is logged.
func RedactDBURL(rawURL string) string {
	if strings.HasPrefix(rawURL, mysqlPrefix) {
		parsed, err := mysql.ParseDSN(rawURL[len(mysqlPrefix):])
		if err != nil {
			return rawURL
		}
		parsed.User = strings.Repeat("x", len(parsed.User))
		parsed.Passwd = strings.Repeat("x", len(parsed.Passwd))
		return mysqlPrefix + parsed.FormatDSN()
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.User == nil {
		return rawURL
	}
	username := parsed.User.Username()
	password, hasPassword := parsed.User.Password()
	if hasPassword {
		parsed.User = url.UserPassword(strings.Repeat("x", len(username)), strings.Repeat("x", len(password)))
	} else {
		parsed.User = url.User(strings.Repeat("x", len(username)))
	}
	return parsed.String()
}

type errorHandler struct{}

func (h *errorHandler) Handle(err error) {
	Logger().Error("opentelemetry failure", zap.Error(err))
}
