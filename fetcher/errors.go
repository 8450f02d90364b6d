package fetcher

import (
	"fmt"

	"github.com/genesis-dao/daosync/chain"
	"github.com/genesis-dao/daosync/storage"
)

// The error taxonomy of the ingestor. Transient RPC faults and empty
// responses are defined next to the chain client, divergence next to the
// stores; this file adds the pipeline-level kinds and the classification
// helpers the loop dispatches on.

// ParseBlockError wraps any failure inside the pipeline transaction. The
// block stays un-executed and is retried on the next tick.
type ParseBlockError struct {
	Number int64
	Err    error
}

func (e *ParseBlockError) Error() string {
	return fmt.Sprintf("block %d not parseable: %v", e.Number, e.Err)
}

func (e *ParseBlockError) Cause() error { return e.Err }

// NotExecutableError marks a previously persisted block that still fails
// after a retry. The loop re-raises it after alerting.
type NotExecutableError struct {
	Number int64
	Err    error
}

func (e *NotExecutableError) Error() string {
	return fmt.Sprintf("block %d not executable: %v", e.Number, e.Err)
}

func (e *NotExecutableError) Cause() error { return e.Err }

// IsParseBlock reports whether err is a pipeline failure.
func IsParseBlock(err error) bool {
	for err != nil {
		if _, ok := err.(*ParseBlockError); ok {
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

// IsTransient re-exports the chain client classification.
func IsTransient(err error) bool { return chain.IsTransient(err) }

// IsDivergence re-exports the storage classification.
func IsDivergence(err error) bool { return storage.IsDivergence(err) }
