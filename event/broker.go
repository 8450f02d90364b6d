// Package event carries the asynchronous task traffic the pipeline hands
// off after a block commits, currently the off-core metadata downloads.
package event

import (
	"context"

	"github.com/Shopify/sarama"
)

const (
	// TopicDaoMetadata carries fetch tasks for DAO metadata documents.
	TopicDaoMetadata = "dao-metadata"
	// TopicProposalMetadata carries fetch tasks for proposal metadata.
	TopicProposalMetadata = "proposal-metadata"
)

// MetadataTask asks the metadata worker to download url, verify it against
// hash and attach the document to the entity named by ID.
type MetadataTask struct {
	ID   string `json:"id"`
	URL  string `json:"url"`
	Hash string `json:"hash"`
}

// Key routes all tasks of one entity to the same partition so per-entity
// ordering is preserved.
func (t *MetadataTask) Key() string { return t.ID }

// IKey lets a published message choose its own partition key.
type IKey interface {
	Key() string
}

// Handler consumes one broker message.
type Handler func(*sarama.ConsumerMessage) error

// Topic describes one broker topic.
type Topic struct {
	Name string
}

// Broker publishes and subscribes task messages.
type Broker interface {
	Publish(topic string, msg interface{}) error
	Subscribe(ctx context.Context, topic string, handler Handler) error
	CreateTopic(topic string) (Topic, error)
	DeleteTopic(topic string) error
	ListTopics() ([]Topic, error)
	Close() error
}
