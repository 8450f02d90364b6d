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

// Package cache is the in-process-facing redis surface: the current-block
// broadcast, signature challenges and the cross-process startup lock.
package cache

import (
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v7"
	"github.com/hashicorp/go-uuid"
	"github.com/pkg/errors"

	"github.com/genesis-dao/daosync/log"
)

var logger = log.NewModuleLogger(log.Cache)

const (
	// CurrentBlockKey holds the most recently executed (number, hash) pair.
	CurrentBlockKey = "current_block"
	// globalChallengeKey holds the process-wide challenge token rotated by
	// the challenge daemon.
	globalChallengeKey = "challenge"

	lockPollInterval = 100 * time.Millisecond
)

// CurrentBlock is the broadcast payload read by the HTTP middleware.
type CurrentBlock struct {
	Number int64  `json:"number"`
	Hash   string `json:"hash"`
}

// Client wraps the redis connection.
type Client struct {
	rdb *redis.Client
}

// New connects to redis at addr.
func New(addr string) *Client {
	return &Client{rdb: redis.NewClient(&redis.Options{Addr: addr})}
}

// Ping verifies the connection.
func (c *Client) Ping() error {
	return errors.Wrap(c.rdb.Ping().Err(), "redis unreachable")
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// PublishCurrentBlock stores the latest executed block under the well-known
// key. Written only by the ingestor; readers see stale but consistent pairs.
func (c *Client) PublishCurrentBlock(number int64, hash string) error {
	data, err := json.Marshal(&CurrentBlock{Number: number, Hash: hash})
	if err != nil {
		return errors.Wrap(err, "cannot encode current block")
	}
	return errors.Wrap(c.rdb.Set(CurrentBlockKey, data, 0).Err(), "cannot publish current block")
}

// CurrentBlock returns the last broadcast pair, or nil before the first
// block executes.
func (c *Client) CurrentBlock() (*CurrentBlock, error) {
	data, err := c.rdb.Get(CurrentBlockKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "cannot read current block")
	}
	var block CurrentBlock
	if err := json.Unmarshal([]byte(data), &block); err != nil {
		return nil, errors.Wrap(err, "cannot decode current block")
	}
	return &block, nil
}

// SetChallenge stores a per-address signature challenge with a TTL.
func (c *Client) SetChallenge(address, token string, lifetime time.Duration) error {
	return errors.Wrapf(c.rdb.Set(address, token, lifetime).Err(),
		"cannot store challenge for %s", address)
}

// Challenge returns the challenge stored for address, "" when expired.
func (c *Client) Challenge(address string) (string, error) {
	token, err := c.rdb.Get(address).Result()
	if err == redis.Nil {
		return "", nil
	}
	return token, errors.Wrapf(err, "cannot read challenge for %s", address)
}

// RefreshGlobalChallenge rotates the process-wide challenge token and
// returns the new value.
func (c *Client) RefreshGlobalChallenge(lifetime time.Duration) (string, error) {
	token, err := uuid.GenerateUUID()
	if err != nil {
		return "", errors.Wrap(err, "cannot generate challenge token")
	}
	if err := c.rdb.Set(globalChallengeKey, token, lifetime).Err(); err != nil {
		return "", errors.Wrap(err, "cannot store challenge token")
	}
	return token, nil
}

// GlobalChallenge returns the current process-wide challenge token.
func (c *Client) GlobalChallenge() (string, error) {
	token, err := c.rdb.Get(globalChallengeKey).Result()
	if err == redis.Nil {
		return "", nil
	}
	return token, errors.Wrap(err, "cannot read challenge token")
}

// WithLock runs fn while holding the named distributed lock. Waiting
// processes poll until the holder releases or the lock TTL expires, so a
// crashed holder cannot wedge startup forever.
func (c *Client) WithLock(name string, ttl time.Duration, fn func() error) error {
	token, err := uuid.GenerateUUID()
	if err != nil {
		return errors.Wrap(err, "cannot generate lock token")
	}

	key := "lock:" + name
	for {
		acquired, err := c.rdb.SetNX(key, token, ttl).Result()
		if err != nil {
			return errors.Wrapf(err, "cannot acquire lock %s", name)
		}
		if acquired {
			break
		}
		time.Sleep(lockPollInterval)
	}
	defer func() {
		// Release only our own token; an expired lock may have been
		// re-acquired by someone else.
		current, err := c.rdb.Get(key).Result()
		if err == nil && current == token {
			if err := c.rdb.Del(key).Err(); err != nil {
				logger.Warn("Cannot release lock", "name", name, "err", err)
			}
		}
	}()

	return fn()
}
