package daemon

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jonboulle/clockwork"
	"github.com/osa030/timedetector/internal/broadcast"
	"github.com/osa030/timedetector/internal/feed"
	"github.com/osa030/timedetector/internal/sysclock"
	"github.com/osa030/timedetector/internal/wakelock"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	bootTime = time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	wallTime = time.Date(2010, 5, 23, 12, 0, 0, 0, time.UTC)
)

// 2018-01-09T11:33:00Z
const suggestedMillis = int64(1515497580000)

type fakePublisher struct {
	startErr error
	mu       sync.Mutex
	received []broadcast.Notification
	done     chan struct{}
}

func (p *fakePublisher) Start(notifications <-chan broadcast.Notification) error {
	if p.startErr != nil {
		return p.startErr
	}
	p.done = make(chan struct{})
	go func() {
		defer close(p.done)
		for n := range notifications {
			p.mu.Lock()
			p.received = append(p.received, n)
			p.mu.Unlock()
		}
	}()
	return nil
}

func (p *fakePublisher) Stop() {
	if p.done != nil {
		<-p.done
	}
}

func (p *fakePublisher) notifications() []broadcast.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]broadcast.Notification(nil), p.received...)
}

type harness struct {
	daemon    *Daemon
	clock     *sysclock.Simulated
	publisher *fakePublisher
	dump      *bytes.Buffer
}

func newHarness(t *testing.T, cfg Config, input string, lock wakelock.Lock) *harness {
	t.Helper()

	if lock == nil {
		lock = wakelock.Noop{}
	}
	h := &harness{
		clock:     sysclock.NewSimulated(clockwork.NewFakeClockAt(bootTime), wallTime),
		publisher: &fakePublisher{},
		dump:      &bytes.Buffer{},
	}
	d, err := New(cfg, Options{
		Clock:     h.clock,
		WakeLock:  lock,
		Feed:      strings.NewReader(input),
		DumpOut:   h.dump,
		Publisher: h.publisher,
	})
	require.NoError(t, err)
	h.daemon = d
	return h
}

// run starts the daemon and waits for the feed to end.
func (h *harness) run(t *testing.T) {
	t.Helper()

	require.NoError(t, h.daemon.Start())
	t.Cleanup(h.daemon.Stop)

	select {
	case err := <-h.daemon.GetError():
		require.True(t, errors.Is(err, feed.ErrStreamClosed), "unexpected error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not finish")
	}
}

func TestDaemon_SourceSuggestionSetsClock(t *testing.T) {
	t.Parallel()

	h := newHarness(t, DefaultConfig(), "source 1 now 2018-01-09T11:33:00Z\ndump\n", nil)
	h.run(t)

	assert.Equal(t, suggestedMillis, sysclock.NowMillis(h.clock))
	assert.Equal(t, 1, h.clock.Sets())
	assert.Contains(t, h.dump.String(), "TimeDetectorStrategy:")
	assert.Contains(t, h.dump.String(), "feed line 1")

	h.daemon.Stop()
	got := h.publisher.notifications()
	require.Len(t, got, 1)
	assert.Equal(t, broadcast.NotificationTypeNetworkTimeSet, got[0].Type)
	assert.Equal(t, suggestedMillis, got[0].TimeMillis)
}

func TestDaemon_ManualOnlyWhenAutoOff(t *testing.T) {
	t.Parallel()

	input := strings.Join([]string{
		"manual now 1515497580000",
		"auto off",
		"manual now 1515497580000",
	}, "\n")
	h := newHarness(t, DefaultConfig(), input, nil)
	h.run(t)

	assert.Equal(t, 1, h.clock.Sets())
	assert.Equal(t, suggestedMillis, sysclock.NowMillis(h.clock))
	assert.Nil(t, h.daemon.Strategy().LastAutoSystemClockTimeSet())

	h.daemon.Stop()
	got := h.publisher.notifications()
	require.Len(t, got, 1)
	assert.Equal(t, broadcast.NotificationTypeAutoDetectionChanged, got[0].Type)
	assert.False(t, got[0].Enabled)
}

func TestDaemon_EnablingAutoAppliesStoredSuggestion(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.AutoDetection = false
	input := strings.Join([]string{
		"source 3 now 1515497580000",
		"auto off",
		"auto on",
	}, "\n")
	h := newHarness(t, cfg, input, nil)
	h.run(t)

	assert.Equal(t, 1, h.clock.Sets())
	require.NotNil(t, h.daemon.Strategy().LastAutoSystemClockTimeSet())
	assert.Equal(t, suggestedMillis, h.daemon.Strategy().LastAutoSystemClockTimeSet().Value)
}

func TestDaemon_ThresholdSuppressesSmallChanges(t *testing.T) {
	t.Parallel()

	input := strings.Join([]string{
		"source 1 now 1515497580000",
		"threshold 1h",
		"source 1 now 1515497590000",
		"threshold 0",
		"source 1 now 1515497600000",
	}, "\n")
	h := newHarness(t, DefaultConfig(), input, nil)
	h.run(t)

	assert.Equal(t, 2, h.clock.Sets())
	assert.Equal(t, int64(1515497600000), sysclock.NowMillis(h.clock))
	assert.Equal(t, int64(0), h.daemon.env.SystemClockUpdateThresholdMillis())
}

func TestDaemon_SkipsMalformedLines(t *testing.T) {
	t.Parallel()

	input := "# header\nsource x\nfrobnicate\nsource 1 now 1515497580000\n"
	h := newHarness(t, DefaultConfig(), input, nil)
	h.run(t)

	assert.Equal(t, 1, h.clock.Sets())
	assert.Equal(t, int64(2), h.daemon.feed.Skipped())
}

func TestDaemon_WakeLockFailureStillSetsClock(t *testing.T) {
	t.Parallel()

	lock := wakelock.NewSysfs(afero.NewMemMapFs(), "/sys/power", "td")
	h := newHarness(t, DefaultConfig(), "source 1 now 1515497580000\n", lock)
	h.run(t)

	assert.Equal(t, 1, h.clock.Sets())
	assert.False(t, lock.Held())
}

func TestDaemon_WakeLockHeldOnlyWhileSetting(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	for _, f := range []string{"wake_lock", "wake_unlock"} {
		require.NoError(t, afero.WriteFile(fs, "/sys/power/"+f, nil, 0o200))
	}
	lock := wakelock.NewSysfs(fs, "/sys/power", "td")

	h := newHarness(t, DefaultConfig(), "source 1 now 1515497580000\n", lock)
	h.run(t)

	assert.Equal(t, 1, h.clock.Sets())
	assert.False(t, lock.Held())
	unlocked, err := afero.ReadFile(fs, "/sys/power/wake_unlock")
	require.NoError(t, err)
	assert.Equal(t, "td", string(unlocked))
}

func TestDaemon_PublisherStartError(t *testing.T) {
	t.Parallel()

	h := newHarness(t, DefaultConfig(), "", nil)
	h.publisher.startErr = errors.New("broker unreachable")

	err := h.daemon.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker unreachable")
	h.daemon.Stop()
}

func TestDaemon_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, DefaultConfig(), "", nil)
	h.run(t)

	h.daemon.Stop()
	h.daemon.Stop()
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.MQTT.Broker = "localhost:1883"

	_, err := New(cfg, Options{Feed: strings.NewReader("")})
	assert.Error(t, err)
}

func TestNew_DryRunUsesSimulatedClock(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.DryRun = true
	cfg.WakeLock.Dir = "/sys/power"

	d, err := New(cfg, Options{Feed: strings.NewReader("")})
	require.NoError(t, err)
	assert.IsType(t, &sysclock.Simulated{}, d.env.clock)
	assert.IsType(t, wakelock.Noop{}, d.env.lock)
	d.Stop()
}

func TestDaemon_OverlongLineDoesNotEndFeed(t *testing.T) {
	t.Parallel()

	input := "# " + strings.Repeat("x", 70*1024) + "\nsource 1 now 1515497580000\n"
	h := newHarness(t, DefaultConfig(), input, nil)
	h.run(t)

	assert.Equal(t, 1, h.clock.Sets())
	assert.Equal(t, suggestedMillis, sysclock.NowMillis(h.clock))
}

func TestDaemon_StopWaitsForFeedReader(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	defer pw.Close()

	d, err := New(DefaultConfig(), Options{
		Clock:    sysclock.NewSimulated(clockwork.NewFakeClockAt(bootTime), wallTime),
		WakeLock: wakelock.Noop{},
		Feed:     pr,
		DumpOut:  io.Discard,
	})
	require.NoError(t, err)
	require.NoError(t, d.Start())

	d.Stop()

	select {
	case <-d.feed.Done():
	default:
		t.Fatal("feed reader still running after Stop")
	}
}
