package events

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rabbitmq/amqp091-go"

	"github.com/customeros/mailbot/dto"
	"github.com/customeros/mailbot/interfaces"
	"github.com/customeros/mailbot/internal/logger"
	"github.com/customeros/mailbot/internal/tracing"
)

type SubscriberConfig struct {
	MaxRetries          int
	ReconnectBackoff    time.Duration
	MaxReconnectBackoff time.Duration
}

type RabbitMQSubscriber struct {
	connection      *amqp091.Connection
	connectionMutex sync.Mutex
	url             string
	logger          logger.Logger
	config          SubscriberConfig
	listeners       map[string]interfaces.EventListener
	listenerMutex   sync.RWMutex
	done            chan struct{}
	closeOnce       sync.Once
}

func NewRabbitMQSubscriber(rabbitmqURL string, logger logger.Logger, config *SubscriberConfig) (*RabbitMQSubscriber, error) {
	if config == nil {
		config = &SubscriberConfig{
			MaxRetries:          5,
			ReconnectBackoff:    DefaultReconnectBackoff,
			MaxReconnectBackoff: DefaultMaxReconnectBackoff,
		}
	}

	subscriber := newSubscriber(rabbitmqURL, logger, *config)

	err := subscriber.connect()
	if err != nil {
		return nil, err
	}

	return subscriber, nil
}

func newSubscriber(rabbitmqURL string, logger logger.Logger, config SubscriberConfig) *RabbitMQSubscriber {
	return &RabbitMQSubscriber{
		url:       rabbitmqURL,
		logger:    logger,
		config:    config,
		listeners: make(map[string]interfaces.EventListener),
		done:      make(chan struct{}),
	}
}

func (r *RabbitMQSubscriber) RegisterListener(listener interfaces.EventListener) {
	r.listenerMutex.Lock()
	defer r.listenerMutex.Unlock()

	eventType := listener.GetEventType()
	r.listeners[eventType] = listener
	r.logger.Infof("Registered listener for event type: %s on queue: %s",
		eventType, listener.GetQueueName())
}

// ListenQueue consumes queueName in the background until Close.
func (r *RabbitMQSubscriber) ListenQueue(queueName string) error {
	go r.consume(queueName)
	return nil
}

func (r *RabbitMQSubscriber) consume(queueName string) {
	for {
		if r.isClosed() {
			return
		}

		r.connectionMutex.Lock()
		connection := r.connection
		r.connectionMutex.Unlock()

		if connection == nil || connection.IsClosed() {
			r.sleep(5 * time.Second)
			continue
		}

		channel, err := connection.Channel()
		if err != nil {
			r.logger.Errorf("Failed to open channel for queue %s: %v. Retrying...", queueName, err)
			r.sleep(5 * time.Second)
			continue
		}

		msgs, err := channel.Consume(
			queueName, // queue
			"",        // consumer tag
			false,     // auto-ack
			false,     // exclusive
			false,     // no-local
			false,     // no-wait
			nil,       // args
		)
		if err != nil {
			_ = channel.Close()
			if strings.Contains(err.Error(), "NOT_FOUND") {
				r.logger.Warnf("Queue %s does not exist yet, waiting for publisher to declare it", queueName)
			} else {
				r.logger.Errorf("Failed to register consumer on queue %s: %v. Retrying...", queueName, err)
			}
			r.sleep(5 * time.Second)
			continue
		}

		r.logger.Infof("Listening for messages on queue %s", queueName)

		for d := range msgs {
			r.handleMessage(d, queueName)
		}
		_ = channel.Close()

		if r.isClosed() {
			return
		}
		r.logger.Warnf("Connection lost for queue %s. Reconnecting...", queueName)
		r.sleep(5 * time.Second)
	}
}

func (r *RabbitMQSubscriber) handleMessage(d amqp091.Delivery, queueName string) {
	defer tracing.RecoverAndLogToJaeger(r.logger)

	err := r.processMessage(d.Body, queueName)
	if err != nil {
		r.logger.Errorf("Failed to process message on queue %s: %v", queueName, err)
		r.retryAckNack(d, false)
	} else {
		r.retryAckNack(d, true)
	}
}

func (r *RabbitMQSubscriber) processMessage(body []byte, queueName string) error {
	var event dto.Event
	if err := json.Unmarshal(body, &event); err != nil {
		return errors.Wrap(err, "failed to unmarshal message")
	}

	ctx, span := tracing.StartRabbitMQMessageTracerSpanWithHeader(context.Background(), "RabbitMQSubscriber.ProcessMessage", event.Metadata.UberTraceId)
	defer span.Finish()
	span.LogKV("event_type", event.Event.EventType)
	span.LogKV("queue_name", queueName)

	r.listenerMutex.RLock()
	listener, exists := r.listeners[event.Event.EventType]
	r.listenerMutex.RUnlock()

	if !exists {
		r.logger.Infof("No listener found for event type: %s on queue: %s", event.Event.EventType, queueName)
		return nil
	}

	if listener.GetQueueName() != queueName {
		r.logger.Warnf("Event type %s received on wrong queue. Expected %s, got %s",
			event.Event.EventType, listener.GetQueueName(), queueName)
		return nil
	}

	err := listener.Handle(ctx, event)
	if err != nil {
		tracing.TraceErr(span, err)
	}
	return err
}

func (r *RabbitMQSubscriber) connect() error {
	r.connectionMutex.Lock()
	defer r.connectionMutex.Unlock()

	connection, err := amqp091.Dial(r.url)
	if err != nil {
		return errors.Wrap(err, "Failed to connect to RabbitMQ")
	}
	r.connection = connection

	go func() {
		notifyClose := connection.NotifyClose(make(chan *amqp091.Error, 1))
		if err, ok := <-notifyClose; !ok || err == nil {
			return
		}
		r.logger.Warn("RabbitMQ connection closed, attempting to reconnect")
		r.reconnect()
	}()

	return nil
}

func (r *RabbitMQSubscriber) reconnect() {
	backoff := r.config.ReconnectBackoff
	for !r.isClosed() {
		err := r.connect()
		if err == nil {
			r.logger.Info("Subscriber reconnected to RabbitMQ")
			return
		}
		r.logger.Errorf("Subscriber failed to reconnect: %v, retrying in %v", err, backoff)
		r.sleep(backoff)
		backoff *= 2
		if backoff > r.config.MaxReconnectBackoff {
			backoff = r.config.MaxReconnectBackoff
		}
	}
}

func (r *RabbitMQSubscriber) retryAckNack(d amqp091.Delivery, ack bool) {
	maxRetries := 5
	retryDelay := 100 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		var err error
		if ack {
			err = d.Ack(false)
		} else {
			err = d.Nack(false, false)
		}

		if err == nil {
			return
		}

		time.Sleep(retryDelay)
	}

	r.logger.Errorf("Failed to %s message after %d attempts",
		map[bool]string{true: "acknowledge", false: "negative acknowledge"}[ack],
		maxRetries)
}

func (r *RabbitMQSubscriber) isClosed() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (r *RabbitMQSubscriber) sleep(d time.Duration) {
	select {
	case <-r.done:
	case <-time.After(d):
	}
}

func (r *RabbitMQSubscriber) Close() error {
	r.closeOnce.Do(func() { close(r.done) })

	r.connectionMutex.Lock()
	defer r.connectionMutex.Unlock()

	if r.connection != nil && !r.connection.IsClosed() {
		return r.connection.Close()
	}
	return nil
}
