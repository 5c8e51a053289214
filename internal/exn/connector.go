// Package exn connects the twin to the platform message bus (ActiveMQ
// over AMQP 1.0) and dispatches incoming messages to per-topic handlers.
package exn

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Azure/go-amqp"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/twinfra/tracetwin/internal/retry"
)

// Topics the twin participates in. The controller, solver, and utility
// evaluator address each other through these well-known names.
const (
	// PerformanceIndicatorsTopic carries an application's relevant
	// performance indicators from the utility evaluator.
	PerformanceIndicatorsTopic = "eu.nebulouscloud.optimiser.utilityevaluator.performanceindicators"
	// SolverSolutionTopic carries solver solution messages with new
	// variable values.
	SolverSolutionTopic = "eu.nebulouscloud.optimiser.solver.solution"
	// AppStatusTopic is the per-app status channel, read by at least
	// the UI and the solver.
	AppStatusTopic = "eu.nebulouscloud.optimiser.controller.app_state"
	// TwinInitTopic delivers the app creation message after the
	// controller sees our started announcement.
	TwinInitTopic = "eu.nebulouscloud.optimiser.controller.twin_init"
	// TwinStatusTopic is where the twin announces its own state.
	TwinStatusTopic = "eu.nebulouscloud.optimiser.twin.state"
)

// Message is one decoded bus message.
type Message struct {
	Topic string
	AppID string // "application" property, falling back to the subject
	Body  []byte // message body re-encoded as JSON
}

// Handler processes one message. Handlers must not block indefinitely;
// a failed handler logs and drops the message, it never stops the
// receiver loop.
type Handler func(ctx context.Context, msg Message)

// Config holds the bus connection settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	AppID    string // application this twin instance belongs to
}

// Connector owns the AMQP connection, one receiver per subscribed
// topic, and the dispatch table from topic to handler.
type Connector struct {
	cfg      Config
	handlers map[string]Handler

	mu        sync.Mutex
	conn      *amqp.Conn
	session   *amqp.Session
	receivers []*amqp.Receiver
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New returns an unconnected Connector.
func New(cfg Config) *Connector {
	return &Connector{
		cfg:      cfg,
		handlers: make(map[string]Handler),
	}
}

// Handle registers the handler for a topic. Must be called before
// Start; later registrations are not picked up.
func (c *Connector) Handle(topic string, h Handler) {
	c.handlers[topic] = h
}

// Start dials the broker, subscribes to all registered topics, and
// announces the twin as started on the status topic. Dialing retries
// transient failures with backoff.
func (c *Connector) Start(ctx context.Context) error {
	addr := fmt.Sprintf("amqp://%s:%d", c.cfg.Host, c.cfg.Port)

	var conn *amqp.Conn
	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		var err error
		conn, err = amqp.Dial(ctx, addr, &amqp.ConnOptions{
			SASLType:    amqp.SASLTypePlain(c.cfg.User, c.cfg.Password),
			ContainerID: "tracetwin-" + uuid.NewString(),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to connect to message bus at %s: %w", addr, err)
	}

	session, err := conn.NewSession(ctx, nil)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open AMQP session: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.conn = conn
	c.session = session
	c.cancel = cancel
	c.mu.Unlock()

	for topic, handler := range c.handlers {
		receiver, err := session.NewReceiver(ctx, "topic://"+topic, nil)
		if err != nil {
			cancel()
			conn.Close()
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
		c.mu.Lock()
		c.receivers = append(c.receivers, receiver)
		c.mu.Unlock()

		c.wg.Add(1)
		go c.receiveLoop(loopCtx, topic, receiver, handler)
		log.Debug().Str("topic", topic).Msg("Subscribed to bus topic")
	}

	if err := c.Publish(ctx, TwinStatusTopic, map[string]any{"state": "started"}, c.cfg.AppID); err != nil {
		log.Error().Err(err).Msg("Failed to announce twin start")
	} else {
		log.Info().Str("app_id", c.cfg.AppID).Msg("Connected to message bus, twin announced as started")
	}
	return nil
}

func (c *Connector) receiveLoop(ctx context.Context, topic string, receiver *amqp.Receiver, handler Handler) {
	defer c.wg.Done()
	for {
		amqpMsg, err := receiver.Receive(ctx, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Str("topic", topic).Msg("Receive failed, stopping topic loop")
			return
		}

		msg := Message{
			Topic: topic,
			AppID: appID(amqpMsg),
			Body:  messageBody(amqpMsg),
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Str("topic", topic).
						Interface("panic", r).
						Msg("Handler panicked, message dropped")
				}
			}()
			handler(ctx, msg)
		}()

		if err := receiver.AcceptMessage(ctx, amqpMsg); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Str("topic", topic).Msg("Failed to accept message")
		}
	}
}

// Publish sends a JSON-encoded body to a topic, tagging it with the
// application id property the other platform components key on.
func (c *Connector) Publish(ctx context.Context, topic string, body any, appID string) error {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return fmt.Errorf("connector not started")
	}

	sender, err := session.NewSender(ctx, "topic://"+topic, nil)
	if err != nil {
		return fmt.Errorf("failed to open sender for %s: %w", topic, err)
	}
	defer sender.Close(ctx)

	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode message body: %w", err)
	}

	correlationID := uuid.NewString()
	msg := &amqp.Message{
		Data: [][]byte{raw},
		Properties: &amqp.MessageProperties{
			CorrelationID: correlationID,
			Subject:       &appID,
		},
		ApplicationProperties: map[string]any{
			"application": appID,
		},
	}
	if err := sender.Send(ctx, msg, nil); err != nil {
		return fmt.Errorf("failed to send to %s: %w", topic, err)
	}
	log.Debug().
		Str("topic", topic).
		Str("app_id", appID).
		Str("correlation_id", correlationID).
		Msg("Published bus message")
	return nil
}

// Stop closes all receivers and the connection. Running handlers finish
// their current message; the receiver loops stop before picking up the
// next one.
func (c *Connector) Stop(ctx context.Context) {
	c.mu.Lock()
	cancel := c.cancel
	receivers := c.receivers
	session := c.session
	conn := c.conn
	c.conn, c.session, c.receivers, c.cancel = nil, nil, nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, r := range receivers {
		if err := r.Close(ctx); err != nil {
			log.Debug().Err(err).Msg("Receiver close failed")
		}
	}
	c.wg.Wait()
	if session != nil {
		session.Close(ctx)
	}
	if conn != nil {
		conn.Close()
	}
	log.Debug().Msg("Bus connector stopped")
}

func appID(m *amqp.Message) string {
	if m.ApplicationProperties != nil {
		if v, ok := m.ApplicationProperties["application"]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	if m.Properties != nil && m.Properties.Subject != nil {
		return *m.Properties.Subject
	}
	return ""
}

// messageBody normalizes the two body encodings seen on the bus: raw
// data sections (already JSON) and AMQP value sections (maps), which
// are re-encoded as JSON so handlers see one format.
func messageBody(m *amqp.Message) []byte {
	if data := m.GetData(); len(data) > 0 {
		return data
	}
	if m.Value != nil {
		if raw, err := json.Marshal(m.Value); err == nil {
			return raw
		}
	}
	return nil
}
