package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/homekit-eldes/control"
	"github.com/caarlos0/homekit-eldes/coordinator"
	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher is the part of the MQTT client used by the mirror.
type Publisher interface {
	Publish(topic string, retained bool, payload []byte) error
}

type pahoPublisher struct {
	client  mqtt.Client
	timeout time.Duration
}

func (p pahoPublisher) Publish(topic string, retained bool, payload []byte) error {
	if err := waitToken(p.client.Publish(topic, 1, retained, payload), p.timeout); err != nil {
		return fmt.Errorf("could not publish to %s: %w", topic, err)
	}
	return nil
}

var errTokenTimeout = errors.New("timed out waiting for the broker")

// waitToken waits for t, a timeout counts as a failure.
func waitToken(t mqtt.Token, timeout time.Duration) error {
	if !t.WaitTimeout(timeout) {
		return errTokenTimeout
	}
	return t.Error()
}

// Mirror publishes the state of every entity to MQTT and accepts commands
// on <prefix>/<unique id>/set.
type Mirror struct {
	prefix   string
	pub      Publisher
	registry *control.Registry

	mu   sync.Mutex
	last map[string]string
}

func NewMirror(prefix string, pub Publisher, registry *control.Registry) *Mirror {
	return &Mirror{
		prefix:   strings.TrimSuffix(prefix, "/"),
		pub:      pub,
		registry: registry,
		last:     map[string]string{},
	}
}

type entityPayload struct {
	control.State
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// Update publishes the entities whose state changed since the last update.
func (m *Mirror) Update(snap coordinator.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.registry.Entities() {
		payload, err := json.Marshal(entityPayload{
			State: e.Render(snap),
			Name:  e.Name(snap),
			Kind:  e.Kind().String(),
		})
		if err != nil {
			log.Error("could not encode entity state", "entity", e.UniqueID(), "err", err)
			continue
		}
		topic := m.topic(e.UniqueID(), "state")
		if m.last[topic] == string(payload) {
			continue
		}
		if err := m.pub.Publish(topic, true, payload); err != nil {
			log.Error("could not publish entity state", "topic", topic, "err", err)
			continue
		}
		m.last[topic] = string(payload)
	}
}

// UpdateStatus publishes whether the devices are reachable.
func (m *Mirror) UpdateStatus(st coordinator.Status) {
	availability := "online"
	if st.Unavailable || st.NeedsReauth {
		availability = "offline"
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	topic := m.prefix + "/availability"
	if m.last[topic] == availability {
		return
	}
	if err := m.pub.Publish(topic, true, []byte(availability)); err != nil {
		log.Error("could not publish availability", "err", err)
		return
	}
	m.last[topic] = availability
}

// CommandTopic is the subscription filter for commands.
func (m *Mirror) CommandTopic() string {
	return m.topic("+", "set")
}

// HandleMessage runs the command in payload against the entity named in
// the topic.
func (m *Mirror) HandleMessage(ctx context.Context, topic string, payload []byte) error {
	id, ok := strings.CutPrefix(topic, m.prefix+"/")
	if ok {
		id, ok = strings.CutSuffix(id, "/set")
	}
	if !ok || id == "" || strings.Contains(id, "/") {
		return fmt.Errorf("invalid command topic %q", topic)
	}
	cmd, err := control.ParseCommand(string(payload))
	if err != nil {
		return err
	}
	log.Info("mqtt command", "entity", id, "command", cmd)
	return m.registry.Handle(ctx, id, cmd)
}

func (m *Mirror) topic(id, suffix string) string {
	return m.prefix + "/" + id + "/" + suffix
}

// connectMQTT connects to the broker, retrying with backoff, and subscribes
// the mirror to commands on every (re)connection.
func connectMQTT(ctx context.Context, cfg Config, newMirror func(Publisher) *Mirror) (mqtt.Client, *Mirror, error) {
	var mirror *Mirror
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientID).
		SetUsername(cfg.MQTTUsername).
		SetPassword(cfg.MQTTPassword).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn("mqtt connection lost", "err", err)
		}).
		SetOnConnectHandler(func(c mqtt.Client) {
			bo := backoff.NewExponentialBackOff()
			bo.MaxInterval = time.Second * 30
			bo.MaxElapsedTime = 0
			if err := subscribeCommands(ctx, c, mirror, cfg.Timeout, bo); err != nil {
				log.Error("could not subscribe to commands", "topic", mirror.CommandTopic(), "err", err)
				return
			}
			log.Info("mqtt connected", "broker", cfg.MQTTBroker, "commands", mirror.CommandTopic())
		})

	client := mqtt.NewClient(opts)
	mirror = newMirror(pahoPublisher{client: client, timeout: cfg.Timeout})

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = time.Second * 30
	bo.MaxElapsedTime = time.Minute * 2
	if err := backoff.RetryNotify(func() error {
		return waitToken(client.Connect(), cfg.Timeout)
	}, backoff.WithContext(bo, ctx), func(err error, d time.Duration) {
		log.Warn("could not connect to mqtt broker, retrying", "in", d, "err", err)
	}); err != nil {
		return nil, nil, fmt.Errorf("could not connect to mqtt broker: %w", err)
	}
	return client, mirror, nil
}

type commandSubscriber interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

// subscribeCommands subscribes the mirror to its command topic, retrying
// until the broker acknowledges it or ctx is done.
func subscribeCommands(ctx context.Context, c commandSubscriber, mirror *Mirror, timeout time.Duration, bo backoff.BackOff) error {
	topic := mirror.CommandTopic()
	handle := func(_ mqtt.Client, msg mqtt.Message) {
		topic, payload := msg.Topic(), msg.Payload()
		go func() {
			if err := mirror.HandleMessage(ctx, topic, payload); err != nil {
				commandErrorCounter.WithLabelValues("mqtt").Inc()
				log.Error("mqtt command failed", "topic", topic, "err", err)
			}
		}()
	}
	return backoff.RetryNotify(func() error {
		return waitToken(c.Subscribe(topic, 1, handle), timeout)
	}, backoff.WithContext(bo, ctx), func(err error, d time.Duration) {
		log.Warn("could not subscribe, retrying", "topic", topic, "in", d, "err", err)
	})
}
