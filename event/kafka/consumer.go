package kafka

import (
	"context"
	"sync"

	"github.com/Shopify/sarama"

	"github.com/genesis-dao/daosync/event"
)

// Consumer runs one consumer-group session over every subscribed topic.
type Consumer struct {
	mu       sync.Mutex
	handlers map[string]event.Handler
	group    sarama.ConsumerGroup
	cancel   chan struct{}
	running  bool
}

func NewConsumer(group sarama.ConsumerGroup) *Consumer {
	return &Consumer{
		handlers: map[string]event.Handler{},
		group:    group,
		cancel:   make(chan struct{}),
	}
}

// Subscribe adds a topic handler and (re)starts the consume loop so the new
// topic joins the session.
func (c *Consumer) Subscribe(ctx context.Context, topic string, handler event.Handler) error {
	c.mu.Lock()
	if c.handlers[topic] != nil {
		c.mu.Unlock()
		return nil
	}
	c.handlers[topic] = handler
	topics := make([]string, 0, len(c.handlers))
	for t := range c.handlers {
		topics = append(topics, t)
	}
	restart := c.running
	c.running = true
	c.mu.Unlock()

	if restart {
		c.cancel <- struct{}{}
	}

	go func() {
		res := make(chan error, 1)
		consume := func() {
			res <- c.group.Consume(ctx, topics, c)
		}
		for {
			go consume()
			select {
			case err := <-res:
				if err != nil {
					logger.Error("Consumer session failed", "err", err)
				}
			case <-c.cancel:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

func (c *Consumer) Close() error {
	return c.group.Close()
}

func (c *Consumer) Setup(session sarama.ConsumerGroupSession) error {
	logger.Info("Consumer session started", "member", session.MemberID())
	return nil
}

func (c *Consumer) Cleanup(session sarama.ConsumerGroupSession) error {
	logger.Info("Consumer session ended", "member", session.MemberID())
	return nil
}

func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	c.mu.Lock()
	handler := c.handlers[claim.Topic()]
	c.mu.Unlock()
	if handler == nil {
		return nil
	}

	for message := range claim.Messages() {
		if err := handler(message); err != nil {
			logger.Error("Message handler failed", "topic", message.Topic, "err", err)
			continue
		}
		session.MarkMessage(message, "")
	}
	return nil
}
