// Copyright 2024 The daosync Authors
// This file is part of the daosync library.
//
// The daosync library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The daosync library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the daosync library. If not, see <http://www.gnu.org/licenses/>.

package kafka

import (
	"time"

	"github.com/Shopify/sarama"
)

const (
	DefaultReplicas   = 1
	DefaultPartitions = 1
)

// Config carries the kafka client configuration.
type Config struct {
	SaramaConfig *sarama.Config // kafka client configurations.
	Brokers      []string       // Brokers is a list of broker URLs.
	GroupID      string         // GroupID names the consumer group.
	Partitions   int32          // Partitions is the number of partitions of a topic.
	Replicas     int16          // Replicas is a replication factor of kafka settings.
}

// GetDefaultConfig returns the configuration the service ships with.
func GetDefaultConfig() *Config {
	config := sarama.NewConfig()
	config.Version = sarama.MaxVersion
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 500 * time.Millisecond
	config.Consumer.Group.Session.Timeout = 6 * time.Second
	config.Consumer.Group.Heartbeat.Interval = 2 * time.Second
	return &Config{
		SaramaConfig: config,
		GroupID:      "daosync",
		Partitions:   DefaultPartitions,
		Replicas:     DefaultReplicas,
	}
}
