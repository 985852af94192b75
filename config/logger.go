package config

import (
	"os"
	"time"

	v "github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	gray  = "\x1b[90m"
	reset = "\x1b[0m"
)

// SetupLogger builds the global logger from app.log_* and returns it.
// When app.log_file is set everything is also written there as JSON
// and rotated
func SetupLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(v.GetString("app.log_level"))
	if err != nil {
		return nil, err
	}

	var enc zapcore.Encoder

	if v.GetString("app.log_format") == "json" {
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(cfg)
	} else {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.EncodeTime = func(t time.Time, pae zapcore.PrimitiveArrayEncoder) {
			pae.AppendString(gray + t.Format("15:04:05.000") + reset)
		}
		cfg.EncodeCaller = func(ec zapcore.EntryCaller, pae zapcore.PrimitiveArrayEncoder) {
			pae.AppendString(gray + ec.TrimmedPath() + reset)
		}
		enc = zapcore.NewConsoleEncoder(cfg)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stdout), level)

	if path := v.GetString("app.log_file"); path != "" {
		rotator := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		}

		fileCfg := zap.NewProductionEncoderConfig()
		fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder

		core = zapcore.NewTee(core, zapcore.NewCore(zapcore.NewJSONEncoder(fileCfg), zapcore.AddSync(rotator), level))
	}

	log := zap.New(core, zap.AddCaller())
	zap.ReplaceGlobals(log)

	return log, nil
}
