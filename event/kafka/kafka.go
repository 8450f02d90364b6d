package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Shopify/sarama"
	"github.com/hashicorp/go-uuid"
	"github.com/pkg/errors"

	"github.com/genesis-dao/daosync/event"
	"github.com/genesis-dao/daosync/log"
)

var logger = log.NewModuleLogger(log.EventBroker)

// Broker is the sarama-backed event.Broker.
type Broker struct {
	config   *Config
	producer sarama.AsyncProducer
	admin    sarama.ClusterAdmin
	consumer *Consumer
}

// New connects a producer, a cluster admin and a consumer group against the
// configured brokers.
func New(config *Config) (event.Broker, error) {
	b := &Broker{config: config}

	admin, err := sarama.NewClusterAdmin(config.Brokers, config.SaramaConfig)
	if err != nil {
		return nil, errors.Wrap(err, "cannot create cluster admin")
	}
	b.admin = admin

	producer, err := sarama.NewAsyncProducer(config.Brokers, config.SaramaConfig)
	if err != nil {
		admin.Close()
		return nil, errors.Wrap(err, "cannot create producer")
	}
	b.producer = producer
	go func() {
		for err := range producer.Errors() {
			logger.Error("Publishing failed", "topic", err.Msg.Topic, "err", err.Err)
		}
	}()
	go func() {
		for range producer.Successes() {
		}
	}()

	id, _ := uuid.GenerateUUID()
	consumerConfig := *config.SaramaConfig
	consumerConfig.ClientID = fmt.Sprintf("%s-%s", config.GroupID, id)
	group, err := sarama.NewConsumerGroup(config.Brokers, config.GroupID, &consumerConfig)
	if err != nil {
		producer.Close()
		admin.Close()
		return nil, errors.Wrap(err, "cannot create consumer group")
	}
	b.consumer = NewConsumer(group)

	return b, nil
}

// Publish JSON-encodes msg onto topic. Messages implementing event.IKey
// choose their partition key, everything else is keyed by topic.
func (b *Broker) Publish(topic string, msg interface{}) error {
	b.CreateTopic(topic)

	item := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(topic),
	}
	if v, ok := msg.(event.IKey); ok {
		item.Key = sarama.StringEncoder(v.Key())
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "cannot encode message")
	}
	item.Value = sarama.StringEncoder(data)

	b.producer.Input() <- item
	return nil
}

// Subscribe registers handler for topic and keeps the consumer group loop
// running until ctx is canceled.
func (b *Broker) Subscribe(ctx context.Context, topic string, handler event.Handler) error {
	b.CreateTopic(topic)
	return b.consumer.Subscribe(ctx, topic, handler)
}

func (b *Broker) CreateTopic(topic string) (event.Topic, error) {
	err := b.admin.CreateTopic(topic, &sarama.TopicDetail{
		NumPartitions:     b.config.Partitions,
		ReplicationFactor: b.config.Replicas,
	}, false)
	return event.Topic{Name: topic}, err
}

func (b *Broker) DeleteTopic(topic string) error {
	return b.admin.DeleteTopic(topic)
}

func (b *Broker) ListTopics() ([]event.Topic, error) {
	topics, err := b.admin.ListTopics()
	if err != nil {
		return nil, err
	}
	ret := make([]event.Topic, 0, len(topics))
	for name := range topics {
		ret = append(ret, event.Topic{Name: name})
	}
	return ret, nil
}

func (b *Broker) Close() error {
	b.producer.AsyncClose()
	b.consumer.Close()
	return b.admin.Close()
}
