// Package feed reads time suggestions and control commands from a line
// oriented text stream.
//
//	manual <ref> <utc>
//	source <id> <ref> <utc>
//	source <id> -
//	auto on|off
//	threshold <duration>
//	dump
//
// <ref> is elapsed realtime in milliseconds, "now", or "now-<duration>".
// <utc> is Unix milliseconds or an RFC 3339 timestamp. Blank lines and lines
// starting with # are ignored.
package feed

import (
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/osa030/timedetector/internal/timedetector"
)

type CommandType int

const (
	CommandTypeManual CommandType = iota
	CommandTypeSource
	CommandTypeAuto
	CommandTypeThreshold
	CommandTypeDump
	CommandTypeStreamClosed
	CommandTypeStreamError
)

func (t CommandType) String() string {
	switch t {
	case CommandTypeManual:
		return "manual"
	case CommandTypeSource:
		return "source"
	case CommandTypeAuto:
		return "auto"
	case CommandTypeThreshold:
		return "threshold"
	case CommandTypeDump:
		return "dump"
	case CommandTypeStreamClosed:
		return "stream-closed"
	case CommandTypeStreamError:
		return "stream-error"
	default:
		return "CommandType(" + strconv.Itoa(int(t)) + ")"
	}
}

type Command struct {
	Type CommandType
	// Line is the 1-based line number the command was read from.
	Line     int
	SourceID int
	// UTCTime is nil for a source that lost its signal.
	UTCTime   *timedetector.TimestampedValue
	Enabled   bool
	Threshold time.Duration
	Error     error
}

// ErrSyntax is wrapped by every parse error.
var ErrSyntax = errors.New("feed syntax error")

const nowToken = "now"

// Parse parses one line. The bool is false for blank and comment lines.
// elapsedMillis resolves "now" references.
func Parse(line string, elapsedMillis int64) (Command, bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return Command{}, false, nil
	}

	switch verb, args := fields[0], fields[1:]; verb {
	case "manual":
		if len(args) != 2 {
			return Command{}, false, syntaxErrorf("manual takes <ref> <utc>, got %d arguments", len(args))
		}
		v, err := parseTimestampedValue(args[0], args[1], elapsedMillis)
		if err != nil {
			return Command{}, false, err
		}
		return Command{Type: CommandTypeManual, UTCTime: &v}, true, nil

	case "source":
		if len(args) < 2 || len(args) > 3 {
			return Command{}, false, syntaxErrorf("source takes <id> <ref> <utc> or <id> -, got %d arguments", len(args))
		}
		id, err := strconv.Atoi(args[0])
		if err != nil || id <= 0 {
			return Command{}, false, syntaxErrorf("invalid source id %q", args[0])
		}
		cmd := Command{Type: CommandTypeSource, SourceID: id}
		if len(args) == 2 {
			if args[1] != "-" {
				return Command{}, false, syntaxErrorf("source %d: expected - or <ref> <utc>", id)
			}
			return cmd, true, nil
		}
		v, err := parseTimestampedValue(args[1], args[2], elapsedMillis)
		if err != nil {
			return Command{}, false, err
		}
		cmd.UTCTime = &v
		return cmd, true, nil

	case "auto":
		if len(args) != 1 {
			return Command{}, false, syntaxErrorf("auto takes on or off")
		}
		switch args[0] {
		case "on":
			return Command{Type: CommandTypeAuto, Enabled: true}, true, nil
		case "off":
			return Command{Type: CommandTypeAuto}, true, nil
		}
		return Command{}, false, syntaxErrorf("auto takes on or off, got %q", args[0])

	case "threshold":
		if len(args) != 1 {
			return Command{}, false, syntaxErrorf("threshold takes <duration>")
		}
		d, err := parseDuration(args[0])
		if err != nil || d < 0 {
			return Command{}, false, syntaxErrorf("invalid threshold %q", args[0])
		}
		return Command{Type: CommandTypeThreshold, Threshold: d}, true, nil

	case "dump":
		if len(args) != 0 {
			return Command{}, false, syntaxErrorf("dump takes no arguments")
		}
		return Command{Type: CommandTypeDump}, true, nil

	default:
		return Command{}, false, syntaxErrorf("unknown command %q", verb)
	}
}

func parseTimestampedValue(ref, utc string, elapsedMillis int64) (timedetector.TimestampedValue, error) {
	r, err := parseReference(ref, elapsedMillis)
	if err != nil {
		return timedetector.TimestampedValue{}, err
	}
	u, err := parseUTC(utc)
	if err != nil {
		return timedetector.TimestampedValue{}, err
	}
	return timedetector.TimestampedValue{ReferenceTimeMillis: r, Value: u}, nil
}

func parseReference(s string, elapsedMillis int64) (int64, error) {
	if s == nowToken {
		return elapsedMillis, nil
	}
	if rest, ok := strings.CutPrefix(s, nowToken+"-"); ok {
		d, err := time.ParseDuration(rest)
		if err != nil {
			return 0, syntaxErrorf("invalid reference offset %q", s)
		}
		return elapsedMillis - d.Milliseconds(), nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, syntaxErrorf("invalid reference time %q", s)
	}
	return v, nil
}

func parseUTC(s string) (int64, error) {
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0, syntaxErrorf("invalid utc time %q", s)
	}
	return t.UnixMilli(), nil
}

// parseDuration accepts a Go duration or a plain number of milliseconds.
func parseDuration(s string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(s)
}

func syntaxErrorf(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrSyntax)
}
