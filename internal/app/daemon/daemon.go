// Package daemon runs the time detection strategy against a suggestion feed
// and the device clock.
package daemon

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jonboulle/clockwork"
	"github.com/osa030/timedetector/internal/broadcast"
	"github.com/osa030/timedetector/internal/feed"
	"github.com/osa030/timedetector/internal/publisher"
	"github.com/osa030/timedetector/internal/sysclock"
	"github.com/osa030/timedetector/internal/timedetector"
	"github.com/osa030/timedetector/internal/wakelock"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

const (
	subscriberBufferSize = 16
	// feedStopTimeout bounds the wait for a feed read that closing the input
	// does not interrupt, such as a terminal.
	feedStopTimeout = time.Second
)

// Publisher forwards notifications somewhere outside the process.
type Publisher interface {
	Start(notifications <-chan broadcast.Notification) error
	Stop()
}

// Options overrides the collaborators New would otherwise build from the config.
type Options struct {
	Clock     sysclock.Clock
	WakeLock  wakelock.Lock
	Feed      io.Reader
	DumpOut   io.Writer
	Publisher Publisher
}

type Daemon struct {
	config    Config
	env       *environment
	strategy  *timedetector.Strategy
	hub       *broadcast.Hub
	feed      *feed.Reader
	publisher Publisher
	dumpOut   io.Writer
	errCh     chan error
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	started   bool
	stopOnce  sync.Once
}

func New(cfg Config, opts Options) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if opts.Clock == nil {
		opts.Clock = newClock(cfg)
	}
	if opts.WakeLock == nil {
		opts.WakeLock = newWakeLock(cfg)
	}
	if opts.Feed == nil {
		opts.Feed = os.Stdin
	}
	if opts.DumpOut == nil {
		opts.DumpOut = os.Stdout
	}
	if opts.Publisher == nil && cfg.MQTT.Broker != "" {
		opts.Publisher = publisher.NewMQTTPublisher(cfg.MQTT.Broker, cfg.MQTT.Topic)
	}

	hub := broadcast.NewHub()
	env := newEnvironment(opts.Clock, opts.WakeLock, hub, cfg)

	return &Daemon{
		config:    cfg,
		env:       env,
		strategy:  timedetector.NewStrategy(env),
		hub:       hub,
		feed:      feed.NewReader(opts.Feed, env.ElapsedRealtimeMillis),
		publisher: opts.Publisher,
		dumpOut:   opts.DumpOut,
		errCh:     make(chan error, 1),
	}, nil
}

func newClock(cfg Config) sysclock.Clock {
	if cfg.DryRun {
		zlog.Info().Msg("Dry run: the system clock will not be changed")
		return sysclock.NewSimulated(clockwork.NewRealClock(), time.Now())
	}
	return sysclock.System{}
}

func newWakeLock(cfg Config) wakelock.Lock {
	if cfg.WakeLock.Dir == "" || cfg.DryRun {
		return wakelock.Noop{}
	}
	return wakelock.NewSysfs(afero.NewOsFs(), cfg.WakeLock.Dir, cfg.WakeLock.Name)
}

// Start subscribes the listeners and begins processing the feed.
func (d *Daemon) Start() error {
	zlog.Info().Msg("Starting time detector...")

	d.ctx, d.cancel = context.WithCancel(context.Background())

	if d.publisher != nil {
		ch, id := d.hub.Subscribe(subscriberBufferSize)
		if err := d.publisher.Start(ch); err != nil {
			d.hub.Unsubscribe(id)
			d.cancel()
			return errors.Wrap(err, "error starting publisher")
		}
	}

	logCh, _ := d.hub.Subscribe(subscriberBufferSize)
	d.wg.Add(2)
	go d.logNotifications(logCh)
	go d.receiveCommands()

	d.feed.Start(d.ctx)
	d.started = true

	zlog.Info().Msgf("Time detector started (auto detection: %t, threshold: %dms, dry run: %t)",
		d.env.IsAutoTimeDetectionEnabled(), d.env.SystemClockUpdateThresholdMillis(), d.config.DryRun)
	return nil
}

func (d *Daemon) receiveCommands() {
	defer d.wg.Done()
	zlog.Info().Msg("Receiving commands...")
	defer zlog.Info().Msg("Stopped receiving commands")

	commands := d.feed.Commands()
	for {
		select {
		case <-d.ctx.Done():
			return
		case cmd, ok := <-commands:
			if !ok {
				return
			}
			if !d.handleCommand(cmd) {
				return
			}
		}
	}
}

// handleCommand returns false once the feed has ended.
func (d *Daemon) handleCommand(cmd feed.Command) bool {
	origin := fmt.Sprintf("feed line %d", cmd.Line)

	switch cmd.Type {
	case feed.CommandTypeManual:
		s := timedetector.NewManualTimeSuggestion(*cmd.UTCTime)
		s.AddDebugInfo(origin)
		if err := d.strategy.SuggestManualTime(s); err != nil {
			zlog.Error().Msgf("Error applying manual time: %v", err)
		}

	case feed.CommandTypeSource:
		s := timedetector.NewSourceTimeSuggestion(cmd.SourceID, cmd.UTCTime)
		s.AddDebugInfo(origin)
		if err := d.strategy.SuggestSourceTime(s); err != nil {
			zlog.Error().Msgf("Error applying source %d time: %v", cmd.SourceID, err)
		}

	case feed.CommandTypeAuto:
		if !d.env.setAutoDetection(cmd.Enabled) {
			zlog.Debug().Msgf("Auto time detection already %t", cmd.Enabled)
			return true
		}
		zlog.Info().Msgf("Auto time detection set to %t", cmd.Enabled)
		if err := d.strategy.HandleAutoTimeDetectionChanged(); err != nil {
			zlog.Error().Msgf("Error handling auto time detection change: %v", err)
		}

	case feed.CommandTypeThreshold:
		d.env.setUpdateThreshold(cmd.Threshold)
		zlog.Info().Msgf("System clock update threshold set to %v", cmd.Threshold)

	case feed.CommandTypeDump:
		d.strategy.Dump(d.dumpOut)

	case feed.CommandTypeStreamClosed:
		zlog.Info().Msgf("Feed ended after %d lines (%d skipped)", cmd.Line, d.feed.Skipped())
		d.handleError(cmd.Error)
		return false

	case feed.CommandTypeStreamError:
		zlog.Error().Msgf("Error receiving commands: %v", cmd.Error)
		d.handleError(cmd.Error)
		return false

	default:
		zlog.Warn().Msgf("Unknown command type: %v", cmd.Type)
	}
	return true
}

func (d *Daemon) logNotifications(notifications <-chan broadcast.Notification) {
	defer d.wg.Done()

	for n := range notifications {
		switch n.Type {
		case broadcast.NotificationTypeNetworkTimeSet:
			zlog.Info().Msgf("Network time set: %s", time.UnixMilli(n.TimeMillis).UTC().Format(time.RFC3339Nano))
		default:
			zlog.Debug().Msgf("Notification: %v", n.Type)
		}
	}
}

// Stop stops processing, waits for the background goroutines and closes the
// listeners. It is safe to call more than once.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() {
		zlog.Info().Msg("Stopping time detector...")

		if d.cancel != nil {
			d.cancel()
		}
		d.feed.Close()
		if d.started {
			select {
			case <-d.feed.Done():
			case <-time.After(feedStopTimeout):
				zlog.Warn().Msg("Feed reader still blocked on input, not waiting for it")
			}
		}

		// The hub closes the logging listener's channel.
		d.hub.Close()
		if d.publisher != nil {
			d.publisher.Stop()
		}

		zlog.Info().Msg("Waiting for background processes...")
		d.wg.Wait()
		zlog.Info().Msg("Time detector stopped")
	})
}

func (d *Daemon) handleError(err error) {
	select {
	case d.errCh <- err:
	default:
		zlog.Warn().Msgf("Dropping error, one is already pending: %v", err)
	}
}

// GetError delivers the error that ended processing. feed.ErrStreamClosed
// means the feed ended normally.
func (d *Daemon) GetError() <-chan error {
	return d.errCh
}

// Dump writes the strategy state to w.
func (d *Daemon) Dump(w io.Writer) {
	d.strategy.Dump(w)
}

// Strategy returns the strategy the daemon drives.
func (d *Daemon) Strategy() *timedetector.Strategy {
	return d.strategy
}
