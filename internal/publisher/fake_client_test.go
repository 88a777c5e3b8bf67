package publisher

import (
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/osa030/timedetector/internal/syncutil"
)

// fakeToken completes when done is closed.
type fakeToken struct {
	done chan struct{}
	err  error
}

func completedToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

// pendingToken never completes, like a connect to a broker that is down.
func pendingToken() *fakeToken {
	return &fakeToken{done: make(chan struct{})}
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type sentMessage struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeClient records what the publisher sends. Methods the publisher never
// calls fall through to the nil embedded interface.
type fakeClient struct {
	mqtt.Client

	connectErr     error
	connectPending bool
	publishErr     error

	mu          syncutil.Mutex
	opts        *mqtt.ClientOptions
	connected   bool
	sent        []sentMessage
	disconnects int
}

func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.connectPending:
		return pendingToken()
	case c.connectErr != nil:
		return completedToken(c.connectErr)
	}
	c.connected = true
	return completedToken(nil)
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.disconnects++
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload any) mqtt.Token {
	if c.publishErr != nil {
		return completedToken(c.publishErr)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sentMessage{topic: topic, qos: qos, retained: retained, payload: payload.([]byte)})
	return completedToken(nil)
}

func (c *fakeClient) messages() []sentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentMessage(nil), c.sent...)
}

func (c *fakeClient) disconnectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

func (c *fakeClient) options() *mqtt.ClientOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts
}

// newTestPublisher returns a publisher that uses client instead of dialling.
func newTestPublisher(broker, topic string, client *fakeClient) *MQTTPublisher {
	p := NewMQTTPublisher(broker, topic)
	p.newClient = func(opts *mqtt.ClientOptions) mqtt.Client {
		client.mu.Lock()
		client.opts = opts
		client.mu.Unlock()
		return client
	}
	return p
}
