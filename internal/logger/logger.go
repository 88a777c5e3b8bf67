// Package logger provides structured logging using zerolog.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

const (
	maxLogSizeMB  = 1
	maxLogBackups = 2
)

// Init initializes the global zerolog logger. logfile is "stdout", "stderr",
// empty for stdout, or a path to a rotated JSON log file.
func Init(verbose bool, logfile string) error {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	var writer io.Writer
	switch strings.ToLower(logfile) {
	case "stdout", "":
		writer = os.Stdout
	case "stderr":
		writer = os.Stderr
	default:
		if err := os.MkdirAll(filepath.Dir(logfile), 0o750); err != nil {
			return errors.Wrapf(err, "create log directory for %s", logfile)
		}
		writer = &lumberjack.Logger{
			Filename:   logfile,
			MaxSize:    maxLogSizeMB,
			MaxBackups: maxLogBackups,
		}
	}

	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.TimeOnly
	zerolog.TimestampFieldName = "time"
	zerolog.LevelFieldName = "level"
	zerolog.MessageFieldName = "message"
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	zerolog.CallerMarshalFunc = shortCaller

	logger := newLogger(writer, level, isConsole(logfile))
	zerolog.DefaultContextLogger = &logger
	zlog.Logger = logger

	return nil
}

func isConsole(logfile string) bool {
	switch strings.ToLower(logfile) {
	case "stdout", "stderr", "":
		return true
	default:
		return false
	}
}

// newLogger uses colour console output for terminals and JSON for files.
// Caller info is only added at debug level.
func newLogger(writer io.Writer, level zerolog.Level, console bool) zerolog.Logger {
	if !console {
		base := zerolog.New(writer).With().Timestamp()
		if level == zerolog.DebugLevel {
			return base.Caller().Logger()
		}
		return base.Logger()
	}

	if level == zerolog.DebugLevel {
		return zerolog.New(zerolog.ConsoleWriter{
			Out:        writer,
			TimeFormat: time.TimeOnly,
			PartsOrder: []string{"time", "level", "message", "caller"},
			FormatCaller: func(i interface{}) string {
				return "(" + i.(string) + ")"
			},
		}).With().Timestamp().Caller().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{
		Out:        writer,
		TimeFormat: time.TimeOnly,
	}).With().Timestamp().Logger()
}

// shortCaller keeps the last directory and the file name.
func shortCaller(_ uintptr, file string, line int) string {
	parts := strings.Split(file, string(filepath.Separator))
	if len(parts) > 1 {
		return filepath.Join(parts[len(parts)-2:]...) + ":" + strconv.Itoa(line)
	}
	return filepath.Base(file) + ":" + strconv.Itoa(line)
}
