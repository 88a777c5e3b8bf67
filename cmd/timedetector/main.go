// Package main provides the timedetector entry point.
package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/osa030/timedetector/internal/app/daemon"
	"github.com/osa030/timedetector/internal/feed"
	"github.com/osa030/timedetector/internal/logger"
	"github.com/osa030/timedetector/internal/platform"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

var (
	app        = kingpin.New("timedetector", "Automatic time detection daemon")
	configPath = app.Flag("config", "Path to YAML config file").Short('c').Envar("TIMEDETECTOR_CONFIG").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Envar("VERBOSE").Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").Envar("LOGFILE").String()

	autoDetection = app.Flag("auto-detection", "Automatic time detection: on or off").Envar("TIMEDETECTOR_AUTO_DETECTION").String()
	threshold     = app.Flag("update-threshold", "Smallest clock change to apply, e.g. 2s").Envar("TIMEDETECTOR_UPDATE_THRESHOLD").String()
	dryRun        = app.Flag("dry-run", "Dry run, never changing the system clock: on or off").Envar("TIMEDETECTOR_DRY_RUN").String()
	wakeLockDir   = app.Flag("wake-lock-dir", "Directory with wake_lock and wake_unlock").Envar("TIMEDETECTOR_WAKE_LOCK_DIR").String()
	mqttBroker    = app.Flag("mqtt-broker", "MQTT broker host:port").Envar("TIMEDETECTOR_MQTT_BROKER").String()
	mqttTopic     = app.Flag("mqtt-topic", "MQTT topic for network time notifications").Envar("TIMEDETECTOR_MQTT_TOPIC").String()

	runCmd      = app.Command("run", "Run the detector (default)").Default()
	feedPath    = runCmd.Flag("feed", "Suggestion feed file, - for stdin").Default("-").Envar("TIMEDETECTOR_FEED").String()
	checkConfig = app.Command("check-config", "Validate the configuration and print it")
)

func init() {
	platform.Init()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if err := logger.Init(*verbose, *logfile); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	cfg, err := loadConfig()
	if err != nil {
		zlog.Error().Msgf("Config validation failed: %v", err)
		zlog.Info().Msg("Please check the config file, flags and environment variables.")
		os.Exit(1)
	}

	zlog.Debug().Msgf("config.auto_detection:[%t]", cfg.AutoDetection)
	zlog.Debug().Msgf("config.update_threshold:[%v]", cfg.UpdateThreshold)
	zlog.Debug().Msgf("config.dry_run:[%t]", cfg.DryRun)
	zlog.Debug().Msgf("config.wake_lock.dir:[%s]", cfg.WakeLock.Dir)
	zlog.Debug().Msgf("config.mqtt.broker:[%s]", cfg.MQTT.Broker)

	switch command {
	case checkConfig.FullCommand():
		if err := yaml.NewEncoder(os.Stdout).Encode(cfg); err != nil {
			zlog.Error().Msgf("Failed to print config: %v", err)
			os.Exit(1)
		}
	case runCmd.FullCommand():
		os.Exit(run(cfg))
	}
}

// loadConfig layers the config file, device settings and flags, in that order.
func loadConfig() (daemon.Config, error) {
	cfg, err := daemon.LoadConfig(afero.NewOsFs(), *configPath)
	if err != nil {
		return daemon.Config{}, err
	}

	device := platform.Detect()
	if device.AutoDetection != nil {
		cfg.AutoDetection = *device.AutoDetection
	}
	if device.UpdateThreshold != nil {
		cfg.UpdateThreshold = *device.UpdateThreshold
	}

	if err := applyFlags(&cfg); err != nil {
		return daemon.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return daemon.Config{}, err
	}
	return cfg, nil
}

func applyFlags(cfg *daemon.Config) error {
	if err := applySwitch("auto-detection", *autoDetection, &cfg.AutoDetection); err != nil {
		return err
	}
	if err := applySwitch("dry-run", *dryRun, &cfg.DryRun); err != nil {
		return err
	}
	if *threshold != "" {
		d, err := time.ParseDuration(*threshold)
		if err != nil {
			return errors.Wrap(err, "--update-threshold")
		}
		cfg.UpdateThreshold = d
	}
	if *wakeLockDir != "" {
		cfg.WakeLock.Dir = *wakeLockDir
	}
	if *mqttBroker != "" {
		cfg.MQTT.Broker = *mqttBroker
	}
	if *mqttTopic != "" {
		cfg.MQTT.Topic = *mqttTopic
	}
	return nil
}

// applySwitch sets target from an on/off flag. An empty value leaves it alone.
func applySwitch(name, value string, target *bool) error {
	switch value {
	case "":
	case "on":
		*target = true
	case "off":
		*target = false
	default:
		return errors.Newf("--%s must be on or off, got %q", name, value)
	}
	return nil
}

func run(cfg daemon.Config) int {
	in, err := openFeed(*feedPath)
	if err != nil {
		zlog.Error().Msgf("Failed to open feed: %v", err)
		return 1
	}

	d, err := daemon.New(cfg, daemon.Options{Feed: in})
	if err != nil {
		zlog.Error().Msgf("Failed to init daemon: %v", err)
		return 1
	}
	if err := d.Start(); err != nil {
		zlog.Error().Msgf("Failed to start daemon: %v", err)
		return 1
	}
	defer d.Stop()

	// Wait for shutdown signal or the end of the feed
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-d.GetError():
		if errors.Is(err, feed.ErrStreamClosed) {
			zlog.Info().Msg("Feed finished")
		} else {
			zlog.Error().Msgf("Daemon error: %v", err)
			exitCode = 1
		}
	}

	d.Dump(os.Stdout)
	return exitCode
}

func openFeed(path string) (io.Reader, error) {
	if path == "" || path == "-" {
		return os.Stdin, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open feed %s", path)
	}
	return f, nil
}
