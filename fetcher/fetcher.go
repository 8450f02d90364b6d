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

// Package fetcher drives the chain-to-projection ingestion: the polling
// loop, the per-block handler pipeline and the retry/alerting around them.
package fetcher

import (
	"context"
	"time"

	"github.com/genesis-dao/daosync/chain"
	"github.com/genesis-dao/daosync/event"
	"github.com/genesis-dao/daosync/log"
	"github.com/genesis-dao/daosync/storage"
)

// ChainReader is the node RPC surface the loop depends on.
//
//go:generate mockgen -destination=./mocks/chain_mock.go -package=mocks github.com/genesis-dao/daosync/fetcher ChainReader
type ChainReader interface {
	FetchBlock(ctx context.Context, hash string, number *int64) (*chain.BlockEnvelope, error)
	QueryAccounts(ctx context.Context) ([]string, error)
}

// BlockPublisher receives the (number, hash) pair of each executed block.
type BlockPublisher interface {
	PublishCurrentBlock(number int64, hash string) error
}

// Config tunes the polling loop.
type Config struct {
	// Interval is the chain's block creation interval; one loop iteration
	// never takes less than this.
	Interval time.Duration
	// RetryDelays is the backoff schedule for chain RPC calls.
	RetryDelays []time.Duration
}

// Fetcher polls the chain head and feeds new blocks through the pipeline.
// It is not safe for concurrent use; run exactly one per projection.
type Fetcher struct {
	reader    ChainReader
	repo      storage.Repository
	pipeline  *Pipeline
	publisher BlockPublisher
	broker    event.Broker
	notifier  Notifier
	retrier   *Retrier
	interval  time.Duration
	logger    log.Logger
	sleep     func(time.Duration)
	now       func() time.Time

	// last is the most recently applied block. It may be un-executed when
	// the previous tick's pipeline rolled back; the next tick retries it
	// before moving on.
	last *storage.Block
}

func New(reader ChainReader, repo storage.Repository, pipeline *Pipeline, cfg Config) *Fetcher {
	return &Fetcher{
		reader:   reader,
		repo:     repo,
		pipeline: pipeline,
		retrier:  NewRetrier(cfg.RetryDelays, nil),
		interval: cfg.Interval,
		logger:   log.NewModuleLogger(log.Fetcher),
		sleep:    time.Sleep,
		now:      time.Now,
	}
}

// SetNotifier routes loop alerts to n.
func (f *Fetcher) SetNotifier(n Notifier) {
	f.notifier = n
	f.retrier.notifier = n
}

// SetPublisher broadcasts executed blocks through p.
func (f *Fetcher) SetPublisher(p BlockPublisher) { f.publisher = p }

// SetBroker dispatches post-commit metadata tasks through b.
func (f *Fetcher) SetBroker(b event.Broker) { f.broker = b }

// Run polls until ctx is cancelled. It returns a NotExecutableError when a
// persisted block keeps failing after its retry; every other failure is
// alerted and absorbed.
func (f *Fetcher) Run(ctx context.Context) error {
	f.logger.Info("Starting ingestion loop", "interval", f.interval)
	if err := f.restore(ctx); err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		started := f.now()

		err := f.tick(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return ctx.Err()
		case IsDivergence(err):
			if err := f.resync(ctx); err != nil {
				notify(f.notifier, AlertError, "resync failed: %v", err)
				f.logger.Error("Resync failed", "err", err)
			}
		case IsParseBlock(err):
			// The block row is persisted but un-executed; the next tick
			// retries it first.
			notify(f.notifier, AlertWarning, "%v", err)
		default:
			if _, fatal := err.(*NotExecutableError); fatal {
				notify(f.notifier, AlertError, "%v", err)
				return err
			}
			notify(f.notifier, AlertError, "tick failed: %v", err)
			f.logger.Error("Tick failed", "err", err)
		}

		f.sleepRemainder(started)
	}
}

// restore picks up where a previous run stopped and seeds the account table
// on a fresh projection.
func (f *Fetcher) restore(ctx context.Context) error {
	last, err := f.repo.LatestExecutedBlock()
	if err != nil {
		return err
	}
	f.last = last
	if last != nil {
		f.logger.Info("Resuming from persisted state", "number", last.Number, "hash", last.Hash)
		currentHeightGauge.Set(float64(last.Number))
		return nil
	}
	return f.seedAccounts(ctx)
}

func (f *Fetcher) seedAccounts(ctx context.Context) error {
	count, err := f.repo.CountAccounts()
	if err != nil || count > 0 {
		return err
	}
	var addresses []string
	err = f.retrier.Do(ctx, "query accounts", func() error {
		var qerr error
		addresses, qerr = f.reader.QueryAccounts(ctx)
		return qerr
	})
	if err != nil {
		return err
	}
	f.logger.Info("Seeding accounts from chain", "count", len(addresses))
	return f.repo.UpsertAccounts(addresses)
}

func (f *Fetcher) tick(ctx context.Context) error {
	// A block that rolled back last tick blocks all progress until it
	// applies; a second failure is fatal.
	if f.last != nil && !f.last.Executed {
		if err := f.refreshUnexecuted(ctx); err != nil {
			return err
		}
		if err := f.apply(f.last); err != nil {
			return &NotExecutableError{Number: f.last.Number, Err: err}
		}
	}

	return f.followHead(ctx)
}

// refreshUnexecuted re-fetches the height of the pending un-executed block.
// If the chain replaced the block since it was stored, the stale row would
// fail forever; swap it for the fresh envelope before the retry.
func (f *Fetcher) refreshUnexecuted(ctx context.Context) error {
	number := f.last.Number
	var env *chain.BlockEnvelope
	err := f.retrier.Do(ctx, "refetch block", func() error {
		var ferr error
		env, ferr = f.reader.FetchBlock(ctx, "", &number)
		return ferr
	})
	if err != nil {
		return err
	}
	if env.Hash == f.last.Hash {
		return nil
	}

	f.logger.Warn("Pending block replaced on chain, refetching",
		"number", number, "stored", f.last.Hash, "chain", env.Hash)
	block := &storage.Block{
		Hash:          env.Hash,
		Number:        env.Number,
		ParentHash:    env.ParentHash,
		ExtrinsicData: storage.GroupedJSON(env.Extrinsics),
		EventData:     storage.GroupedJSON(env.Events),
	}
	if err := f.repo.ReplaceBlock(block); err != nil {
		return err
	}
	f.last = block
	return nil
}

func (f *Fetcher) followHead(ctx context.Context) error {
	var head *chain.BlockEnvelope
	err := f.retrier.Do(ctx, "fetch head", func() error {
		var ferr error
		head, ferr = f.reader.FetchBlock(ctx, "", nil)
		return ferr
	})
	if err != nil {
		return err
	}

	// A cold or freshly-resynced projection behaves as if block -1 were
	// executed: the whole chain up to the head is backlog.
	lastNumber := int64(-1)
	if f.last != nil {
		lastNumber = f.last.Number
	}

	switch {
	case head.Number < lastNumber:
		f.logger.Warn("Chain head behind projection",
			"head", head.Number, "projection", lastNumber)
		return storage.ErrDivergence

	case head.Number == lastNumber:
		if head.Hash != f.last.Hash {
			f.logger.Warn("Chain head replaced at same height",
				"number", head.Number, "chain", head.Hash, "projection", f.last.Hash)
			return storage.ErrDivergence
		}
		f.logger.Debug("Waiting for new block", "number", head.Number)
		return nil

	case head.Number == lastNumber+1:
		return f.process(head)

	default:
		// Catch up block by block; the head envelope is already fetched.
		for number := lastNumber + 1; number < head.Number; number++ {
			var env *chain.BlockEnvelope
			n := number
			err := f.retrier.Do(ctx, "fetch block", func() error {
				var ferr error
				env, ferr = f.reader.FetchBlock(ctx, "", &n)
				return ferr
			})
			if err != nil {
				return err
			}
			if err := f.process(env); err != nil {
				return err
			}
		}
		return f.process(head)
	}
}

// process persists the envelope (if not already stored) and runs the
// pipeline over it.
func (f *Fetcher) process(env *chain.BlockEnvelope) error {
	block, err := f.ensureBlock(env)
	if err != nil {
		return err
	}
	if err := f.apply(block); err != nil {
		// Keep the un-executed row as last so the next tick retries it.
		f.last = block
		return err
	}
	return nil
}

func (f *Fetcher) apply(block *storage.Block) error {
	res, err := f.pipeline.Apply(f.repo, block)
	if err != nil {
		return err
	}
	f.last = block
	f.afterApply(block, res)
	return nil
}

// ensureBlock returns the stored row for the envelope, creating it when
// unseen. A stored row with a different hash at the same height means the
// chain rewrote history under us.
func (f *Fetcher) ensureBlock(env *chain.BlockEnvelope) (*storage.Block, error) {
	existing, err := f.repo.BlockByNumber(env.Number)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.Hash != env.Hash {
			f.logger.Warn("Stored block differs from chain",
				"number", env.Number, "stored", existing.Hash, "chain", env.Hash)
			return nil, storage.ErrDivergence
		}
		return existing, nil
	}

	block := &storage.Block{
		Hash:          env.Hash,
		Number:        env.Number,
		ParentHash:    env.ParentHash,
		ExtrinsicData: storage.GroupedJSON(env.Extrinsics),
		EventData:     storage.GroupedJSON(env.Events),
	}
	if err := f.repo.CreateBlock(block); err != nil {
		return nil, err
	}
	return block, nil
}

// afterApply runs the post-commit side effects. None of them may fail the
// loop; the projection is already committed.
func (f *Fetcher) afterApply(block *storage.Block, res *Result) {
	blocksProcessedCounter.Inc()
	currentHeightGauge.Set(float64(block.Number))
	f.logger.Info("Block executed", "number", block.Number, "hash", block.Hash)

	if f.publisher != nil {
		if err := f.publisher.PublishCurrentBlock(block.Number, block.Hash); err != nil {
			f.logger.Warn("Cannot publish current block", "number", block.Number, "err", err)
		}
	}
	if f.broker == nil {
		return
	}
	for _, task := range res.DaoMetadata {
		if err := f.broker.Publish(event.TopicDaoMetadata, task); err != nil {
			f.logger.Warn("Cannot dispatch dao metadata task", "dao", task.ID, "err", err)
		}
	}
	for _, task := range res.ProposalMetadata {
		if err := f.broker.Publish(event.TopicProposalMetadata, task); err != nil {
			f.logger.Warn("Cannot dispatch proposal metadata task", "proposal", task.ID, "err", err)
		}
	}
}

// resync drops the whole projection and starts over from the current chain
// state. Brutal, but divergence means the local history is worthless.
func (f *Fetcher) resync(ctx context.Context) error {
	resyncCounter.Inc()
	notify(f.notifier, AlertWarning, "divergence detected, resyncing projection from scratch")
	f.logger.Warn("Resyncing projection")

	if err := f.repo.ClearAll(); err != nil {
		return err
	}
	f.last = nil
	return f.seedAccounts(ctx)
}

func (f *Fetcher) sleepRemainder(started time.Time) {
	if remaining := f.interval - f.now().Sub(started); remaining > 0 {
		f.sleep(remaining)
	}
}
