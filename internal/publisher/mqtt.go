// Package publisher forwards clock notifications to an MQTT broker.
package publisher

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/osa030/timedetector/internal/broadcast"
	zlog "github.com/rs/zerolog/log"
)

// ActionNetworkSetTime is the action name listeners of the network time
// broadcast expect.
const ActionNetworkSetTime = "android.intent.action.NETWORK_SET_TIME"

const (
	connectTimeout  = 10 * time.Second
	publishTimeout  = 5 * time.Second
	disconnectQuiet = 250
)

// Payload is the message published for each clock set.
type Payload struct {
	Action string `json:"action"`
	Time   int64  `json:"time"`
}

// MQTTPublisher publishes network time set notifications to a broker topic.
type MQTTPublisher struct {
	client    mqtt.Client
	newClient func(*mqtt.ClientOptions) mqtt.Client
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	broker    string
	topic     string
}

func NewMQTTPublisher(broker, topic string) *MQTTPublisher {
	return &MQTTPublisher{
		broker:    broker,
		topic:     topic,
		newClient: mqtt.NewClient,
		stopCh:    make(chan struct{}),
	}
}

// Start begins connecting to the broker and forwards notifications until Stop
// is called or the channel is closed. It does not wait for the connection: an
// unreachable broker is retried in the background and notifications published
// meanwhile are dropped.
func (p *MQTTPublisher) Start(notifications <-chan broadcast.Notification) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", p.broker))
	opts.SetClientID("timedetector-" + uuid.New().String()[:8])
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(connectTimeout)

	opts.OnConnect = func(_ mqtt.Client) {
		zlog.Info().Msgf("mqtt publisher: connected to %s", p.broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		zlog.Warn().Err(err).Msg("mqtt publisher: connection lost")
	}

	client := p.newClient(opts)

	token := client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return errors.Wrapf(err, "connect to mqtt broker %s", p.broker)
		}
		zlog.Info().Msgf("mqtt publisher: publishing to %s (topic: %s)", p.broker, p.topic)
	default:
		zlog.Info().Msgf("mqtt publisher: connecting to %s in the background (topic: %s)", p.broker, p.topic)
	}
	p.client = client

	p.wg.Add(1)
	go p.publishNotifications(notifications)
	return nil
}

// Stop ends publishing and disconnects. It is safe to call more than once.
func (p *MQTTPublisher) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		p.wg.Wait()

		// Disconnect also ends a connect retry still running in the background.
		if p.client != nil {
			zlog.Debug().Msg("mqtt publisher: disconnecting")
			p.client.Disconnect(disconnectQuiet)
		}
	})
}

func (p *MQTTPublisher) publishNotifications(notifications <-chan broadcast.Notification) {
	defer p.wg.Done()
	zlog.Debug().Msg("mqtt publisher: started")

	for {
		select {
		case <-p.stopCh:
			zlog.Debug().Msg("mqtt publisher: stopped")
			return
		case n, ok := <-notifications:
			if !ok {
				zlog.Debug().Msg("mqtt publisher: notification channel closed")
				return
			}
			if n.Type != broadcast.NotificationTypeNetworkTimeSet {
				continue
			}
			if !p.client.IsConnected() {
				zlog.Warn().Msgf("mqtt publisher: not connected, dropping network time %d", n.TimeMillis)
				continue
			}
			if err := p.publish(n.TimeMillis); err != nil {
				zlog.Error().Err(err).Msg("mqtt publisher: publish failed")
			}
		}
	}
}

func (p *MQTTPublisher) publish(timeMillis int64) error {
	payload, err := json.Marshal(Payload{Action: ActionNetworkSetTime, Time: timeMillis})
	if err != nil {
		return errors.Wrap(err, "marshal payload")
	}

	token := p.client.Publish(p.topic, 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return errors.Newf("publish to %s timed out after %v", p.topic, publishTimeout)
	}
	if err := token.Error(); err != nil {
		return errors.Wrapf(err, "publish to %s", p.topic)
	}

	zlog.Debug().Msgf("mqtt publisher: published network time %d", timeMillis)
	return nil
}
