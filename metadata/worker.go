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

// Package metadata downloads the off-chain documents announced by
// DaoMetadataSet and ProposalMetadataSet, verifies them against the
// on-chain hash and attaches them to the projection.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"

	"github.com/genesis-dao/daosync/event"
	"github.com/genesis-dao/daosync/log"
	"github.com/genesis-dao/daosync/storage"
)

// maxDocumentSize caps a metadata download. Documents are small JSON blobs;
// anything beyond this is either abuse or a misconfigured URL.
const maxDocumentSize = 1 << 20

// HashMismatchError marks a downloaded document whose digest does not match
// the hash announced on chain. The document is discarded.
type HashMismatchError struct {
	ID       string
	Expected string
	Actual   string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("metadata hash mismatch for %s: chain %s, computed %s", e.ID, e.Expected, e.Actual)
}

// IsHashMismatch reports whether err (at any wrap depth) is a mismatch.
func IsHashMismatch(err error) bool {
	for err != nil {
		if _, ok := err.(*HashMismatchError); ok {
			return true
		}
		cause, ok := err.(interface{ Cause() error })
		if !ok {
			return false
		}
		err = cause.Cause()
	}
	return false
}

// Store is the projection surface the worker writes to.
type Store interface {
	StoreDaoMetadata(id string, metadata storage.JSONObject) error
	StoreProposalMetadata(id string, metadata storage.JSONObject, title string) error
}

// Worker consumes metadata tasks from the broker and resolves them.
type Worker struct {
	broker event.Broker
	store  Store
	hasher Hasher
	hc     *http.Client
	logger log.Logger
}

func NewWorker(broker event.Broker, store Store, hasher Hasher) *Worker {
	return &Worker{
		broker: broker,
		store:  store,
		hasher: hasher,
		hc:     &http.Client{Timeout: 30 * time.Second},
		logger: log.NewModuleLogger(log.Metadata),
	}
}

// Run subscribes to both metadata topics and blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for _, topic := range []string{event.TopicDaoMetadata, event.TopicProposalMetadata} {
		if _, err := w.broker.CreateTopic(topic); err != nil {
			return errors.Wrapf(err, "cannot create topic %s", topic)
		}
	}

	if err := w.broker.Subscribe(ctx, event.TopicDaoMetadata, w.handleDaoTask); err != nil {
		return err
	}
	if err := w.broker.Subscribe(ctx, event.TopicProposalMetadata, w.handleProposalTask); err != nil {
		return err
	}

	w.logger.Info("Metadata worker running")
	<-ctx.Done()
	return ctx.Err()
}

// handleDaoTask resolves one DAO metadata task. A hash mismatch consumes
// the message without writing; redelivery cannot fix a bad document.
func (w *Worker) handleDaoTask(msg *sarama.ConsumerMessage) error {
	task, err := decodeTask(msg)
	if err != nil {
		w.logger.Error("Dropping undecodable dao metadata task", "err", err)
		return nil
	}
	doc, err := w.fetch(task)
	if err != nil {
		if IsHashMismatch(err) {
			w.logger.Error("Discarding dao metadata", "dao", task.ID, "err", err)
			return nil
		}
		return err
	}
	w.logger.Info("Storing dao metadata", "dao", task.ID, "url", task.URL)
	return w.store.StoreDaoMetadata(task.ID, doc)
}

// handleProposalTask resolves one proposal metadata task, lifting the title
// out of the document for list views.
func (w *Worker) handleProposalTask(msg *sarama.ConsumerMessage) error {
	task, err := decodeTask(msg)
	if err != nil {
		w.logger.Error("Dropping undecodable proposal metadata task", "err", err)
		return nil
	}
	doc, err := w.fetch(task)
	if err != nil {
		if IsHashMismatch(err) {
			w.logger.Error("Discarding proposal metadata", "proposal", task.ID, "err", err)
			return nil
		}
		return err
	}
	title, _ := doc["title"].(string)
	w.logger.Info("Storing proposal metadata", "proposal", task.ID, "url", task.URL)
	return w.store.StoreProposalMetadata(task.ID, doc, title)
}

// fetch downloads, size-caps and verifies the document.
func (w *Worker) fetch(task *event.MetadataTask) (storage.JSONObject, error) {
	resp, err := w.hc.Get(task.URL)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot download metadata from %s", task.URL)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("metadata download from %s returned HTTP %d", task.URL, resp.StatusCode)
	}

	data, err := ioutil.ReadAll(io.LimitReader(resp.Body, maxDocumentSize+1))
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read metadata from %s", task.URL)
	}
	if len(data) > maxDocumentSize {
		return nil, errors.Errorf("metadata document from %s exceeds %d bytes", task.URL, maxDocumentSize)
	}

	if actual := w.hasher(data); !hashEqual(actual, task.Hash) {
		return nil, &HashMismatchError{ID: task.ID, Expected: task.Hash, Actual: actual}
	}

	var doc storage.JSONObject
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(err, "cannot decode metadata from %s", task.URL)
	}
	return doc, nil
}

func decodeTask(msg *sarama.ConsumerMessage) (*event.MetadataTask, error) {
	var task event.MetadataTask
	if err := json.Unmarshal(msg.Value, &task); err != nil {
		return nil, errors.Wrap(err, "cannot decode metadata task")
	}
	return &task, nil
}

// hashEqual compares hex digests ignoring case and a 0x prefix.
func hashEqual(a, b string) bool {
	return strings.EqualFold(strings.TrimPrefix(a, "0x"), strings.TrimPrefix(b, "0x"))
}
