package feed

import (
	"bufio"
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// ErrStreamClosed is carried by the final command when the input ends cleanly.
var ErrStreamClosed = errors.New("feed stream closed")

const commandBufferSize = 10

// MaxLineLength is the longest line parsed. Longer lines are skipped.
const MaxLineLength = 64 * 1024

// Reader parses a stream in the background and delivers commands in order.
type Reader struct {
	r         io.Reader
	elapsed   func() int64
	commands  chan Command
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	skipped   atomic.Int64
}

// NewReader reads from r. elapsed supplies the elapsed realtime used for
// "now" references at the moment each line is parsed.
func NewReader(r io.Reader, elapsed func() int64) *Reader {
	return &Reader{
		r:        r,
		elapsed:  elapsed,
		commands: make(chan Command, commandBufferSize),
		done:     make(chan struct{}),
	}
}

// Start begins reading. The command channel ends with a StreamClosed or
// StreamError command and is then closed.
func (r *Reader) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	go r.read(ctx)
}

func (r *Reader) read(ctx context.Context) {
	defer close(r.done)
	defer close(r.commands)
	zlog.Info().Msg("Reading feed...")
	defer zlog.Info().Msg("Stopped reading feed")

	br := bufio.NewReader(r.r)
	line := 0
	for {
		text, tooLong, err := readLine(br)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			zlog.Error().Msgf("Error reading feed: %v", err)
			r.send(ctx, Command{
				Type:  CommandTypeStreamError,
				Line:  line,
				Error: errors.Wrap(err, "error reading feed"),
			})
			return
		}

		line++
		if tooLong {
			r.skipped.Add(1)
			zlog.Warn().Msgf("Skipping feed line %d: longer than %d bytes", line, MaxLineLength)
			continue
		}
		cmd, ok, err := Parse(text, r.elapsed())
		if err != nil {
			r.skipped.Add(1)
			zlog.Warn().Msgf("Skipping feed line %d: %v", line, err)
			continue
		}
		if !ok {
			continue
		}
		cmd.Line = line
		zlog.Debug().Msgf("Feed line %d: %v", line, cmd.Type)
		if !r.send(ctx, cmd) {
			return
		}
	}

	r.send(ctx, Command{
		Type:  CommandTypeStreamClosed,
		Line:  line,
		Error: ErrStreamClosed,
	})
}

// readLine returns the next line without its terminator. The rest of a line
// longer than MaxLineLength is discarded and tooLong is set.
func readLine(br *bufio.Reader) (text string, tooLong bool, err error) {
	var (
		buf, chunk []byte
		isPrefix   bool
	)
	for {
		chunk, isPrefix, err = br.ReadLine()
		if err != nil {
			return "", false, err
		}
		if !tooLong {
			if len(buf)+len(chunk) > MaxLineLength {
				tooLong = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if !isPrefix {
			return string(buf), tooLong, nil
		}
	}
}

func (r *Reader) send(ctx context.Context, cmd Command) bool {
	select {
	case r.commands <- cmd:
		return true
	case <-ctx.Done():
		return false
	}
}

func (r *Reader) Commands() <-chan Command {
	return r.commands
}

// Skipped returns the number of malformed lines seen so far.
func (r *Reader) Skipped() int64 {
	return r.skipped.Load()
}

// Close stops delivering commands. If the input is an io.Closer it is closed
// too, which unblocks a pending read.
func (r *Reader) Close() {
	r.closeOnce.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
		if c, ok := r.r.(io.Closer); ok {
			_ = c.Close()
		}
	})
}

// Done is closed once the reading goroutine has exited.
func (r *Reader) Done() <-chan struct{} {
	return r.done
}
