package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/tralfaz/internal/config"
	"github.com/nugget/tralfaz/internal/scheduler"
)

// DefaultTopic is the topic prefix when none is configured.
const DefaultTopic = "tralfaz/notifications"

// queueSize bounds notifications waiting for the broker. Observe drops
// events when it is full.
const queueSize = 64

// publisher is the subset of [autopaho.ConnectionManager] the mirror
// uses.
type publisher interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Mirror publishes scheduler notifications to MQTT. It implements
// [scheduler.Observer].
type Mirror struct {
	cfg      config.MQTTConfig
	clientID string
	topic    string
	tally    *DailyTally
	logger   *slog.Logger

	queue chan scheduler.Event
	cm    *autopaho.ConnectionManager
}

// NewMirror creates a Mirror but does not connect. Call [Mirror.Start]
// to connect and begin publishing.
func NewMirror(cfg config.MQTTConfig, clientID string, loc *time.Location, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	if cfg.ClientID != "" {
		clientID = cfg.ClientID
	}
	return &Mirror{
		cfg:      cfg,
		clientID: clientID,
		topic:    topic,
		tally:    NewDailyTally(loc),
		logger:   logger.With("component", "mqtt"),
		queue:    make(chan scheduler.Event, queueSize),
	}
}

// Observe queues ev for publishing. It never blocks.
func (m *Mirror) Observe(_ context.Context, ev scheduler.Event) {
	select {
	case m.queue <- ev:
	default:
		m.logger.Warn("mqtt queue full, dropping notification", "kind", ev.Kind)
	}
}

// Start connects to the broker and publishes queued notifications. It
// blocks until ctx is cancelled.
func (m *Mirror) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(m.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: m.cfg.Username,
		ConnectPassword: []byte(m.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   m.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			m.logger.Info("mqtt connected to broker", "broker", m.cfg.Broker)
			m.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			m.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: m.clientID,
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	m.cm = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		m.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	m.run(ctx, cm)
	return nil
}

// Stop publishes "offline" and disconnects.
func (m *Mirror) Stop(ctx context.Context) error {
	if m.cm == nil {
		return nil
	}
	m.publishAvailability(ctx, m.cm, "offline")
	return m.cm.Disconnect(ctx)
}

func (m *Mirror) run(ctx context.Context, pub publisher) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.queue:
			m.publish(ctx, pub, ev)
		}
	}
}

func (m *Mirror) publish(ctx context.Context, pub publisher, ev scheduler.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		m.logger.Error("mqtt marshal notification", "kind", ev.Kind, "error", err)
		return
	}

	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := pub.Publish(pctx, &paho.Publish{
		Topic:   m.topic + "/" + ev.Kind,
		Payload: payload,
		QoS:     1,
	}); err != nil {
		m.logger.Warn("mqtt notification publish failed", "kind", ev.Kind, "error", err)
	} else {
		m.logger.Debug("mqtt notification published", "kind", ev.Kind, "outcome", ev.Outcome)
	}

	ok := ev.Outcome == scheduler.OutcomeSent || ev.Outcome == scheduler.OutcomeVoiceFailed
	tally := m.tally.Record(ev.Kind == scheduler.KindReminder, ok)
	state, _ := json.Marshal(tally)
	if _, err := pub.Publish(pctx, &paho.Publish{
		Topic:   m.topic + "/today",
		Payload: state,
		QoS:     0,
		Retain:  true,
	}); err != nil {
		m.logger.Debug("mqtt tally publish failed", "error", err)
	}
}

func (m *Mirror) availabilityTopic() string {
	return m.topic + "/availability"
}

func (m *Mirror) publishAvailability(ctx context.Context, pub publisher, status string) {
	if _, err := pub.Publish(ctx, &paho.Publish{
		Topic:   m.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		m.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
	} else {
		m.logger.Info("mqtt availability published", "status", status)
	}
}
