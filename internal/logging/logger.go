// Package logging sets up the process-wide structured logger.
//
// The daily-rotated-file-plus-console sink feeds a zap.Logger instead of
// the standard library log.Logger so that per-bot fields can be
// attached cheaply.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls where and how logs are written.
type Config struct {
	// Dir is the directory daily log files are written to.
	Dir string
	// Detailed enables caller (file:function:line) annotations.
	Detailed bool
	// Development is not read by New: both the stdout and the file sink
	// always use zap's console encoder.
	Development bool
}

// dailyFile reopens itself once the calendar day changes: one file per
// day, named by date.
type dailyFile struct {
	dir     string
	day     string
	file    *os.File
}

func newDailyFile(dir string) (*dailyFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	df := &dailyFile{dir: dir}
	if err := df.rotate(); err != nil {
		return nil, err
	}
	return df, nil
}

func (df *dailyFile) rotate() error {
	day := time.Now().Format("2006-01-02")
	if day == df.day && df.file != nil {
		return nil
	}
	path := filepath.Join(df.dir, fmt.Sprintf("farmhand-%s.log", day))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	if df.file != nil {
		df.file.Close()
	}
	df.file = f
	df.day = day
	return nil
}

func (df *dailyFile) Write(p []byte) (int, error) {
	if err := df.rotate(); err != nil {
		return 0, err
	}
	return df.file.Write(p)
}

func (df *dailyFile) Sync() error {
	if df.file == nil {
		return nil
	}
	return df.file.Sync()
}

func (df *dailyFile) Close() error {
	if df.file == nil {
		return nil
	}
	return df.file.Close()
}

// New builds the process-wide logger. The returned closer must be called on
// shutdown to flush and close the underlying daily file.
func New(cfg Config) (*zap.Logger, io.Closer, error) {
	dir := cfg.Dir
	if dir == "" {
		dir = "logs"
	}

	df, err := newDailyFile(dir)
	if err != nil {
		return nil, nil, err
	}

	consoleEncoderCfg := zap.NewProductionEncoderConfig()
	consoleEncoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	consoleEncoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder

	fileEncoderCfg := consoleEncoderCfg
	fileEncoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	consoleCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(consoleEncoderCfg),
		zapcore.AddSync(os.Stdout),
		zap.DebugLevel,
	)
	fileCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(fileEncoderCfg),
		zapcore.AddSync(df),
		zap.DebugLevel,
	)

	core := zapcore.NewTee(consoleCore, fileCore)

	var opts []zap.Option
	if cfg.Detailed {
		opts = append(opts, zap.AddCaller())
	}

	logger := zap.New(core, opts...)
	return logger, df, nil
}

// ForBot returns a child logger tagged with the bot's name, the
// structured equivalent of a per-line "Bot %s: ..." prefix.
func ForBot(base *zap.Logger, name string) *zap.Logger {
	return base.With(zap.String("bot", name))
}
