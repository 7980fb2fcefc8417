// Package logger builds the process-wide zap logger: console output plus
// rotated app.log (everything) and error.log (errors only) files.
package logger

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/dipbuyer/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	appLogFile   = "app.log"
	errorLogFile = "error.log"
	serviceName  = "dipbuyer"
)

// New creates the logger described by cfg. The returned closer flushes and closes log files.
func New(cfg config.LogConfig) (*zap.Logger, func(), error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "parse log level %q", cfg.Level)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	consoleCfg := zap.NewDevelopmentEncoderConfig()
	consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	consoleCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.Lock(os.Stdout), level),
	}
	var files []*lumberjack.Logger

	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, nil, errors.Wrap(err, "create log dir")
		}

		app := rotated(cfg, appLogFile)
		errs := rotated(cfg, errorLogFile)
		files = append(files, app, errs)

		jsonEncoder := zapcore.NewJSONEncoder(encoderCfg)
		cores = append(cores,
			zapcore.NewCore(jsonEncoder, zapcore.AddSync(app), level),
			zapcore.NewCore(jsonEncoder, zapcore.AddSync(errs), zapcore.ErrorLevel),
		)
	}

	l := zap.New(zapcore.NewTee(cores...), zap.AddCaller()).With(zap.String("service", serviceName))

	closer := func() {
		_ = l.Sync()
		for _, f := range files {
			_ = f.Close()
		}
	}

	return l, closer, nil
}

func rotated(cfg config.LogConfig, name string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Dir, name),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
}
