package ironbase

import (
	"io"
	"os"

	"github.com/petitan/ironbase/internal/logger"
	"github.com/petitan/ironbase/internal/transaction"
)

// Durability re-exports the transaction package's flush policy so callers
// never need to import internal/transaction themselves.
type Durability = transaction.Durability

const (
	DurabilitySafe   = transaction.DurabilitySafe
	DurabilityBatch  = transaction.DurabilityBatch
	DurabilityUnsafe = transaction.DurabilityUnsafe
)

// Options configures a database opened with Open.
type Options struct {
	// Durability selects the commit-flush policy (safe | batch | unsafe).
	Durability Durability
	// BatchSize is the number of commits between flushes under
	// DurabilityBatch. Ignored otherwise.
	BatchSize int
	// Workers bounds the background task pool that Open uses to open
	// discovered collections concurrently (including any index rebuilds
	// that opening a collection runs).
	Workers int
	// LogOutput and LogLevel configure the database's structured logger.
	// LogOutput defaults to os.Stderr. LogLevel is used as given: its zero
	// value is logger.LevelDebug, so an unset LogLevel logs at debug level.
	LogOutput io.Writer
	LogLevel  logger.Level
	// TransactionOpCap bounds the number of buffered operations a single
	// transaction may accumulate before AddOp refuses further writes.
	// Defaults to transaction.DefaultOpCap.
	TransactionOpCap int
	// WALCheckpointInterval triggers an automatic Compact every N
	// committed transactions. Zero disables automatic checkpointing.
	WALCheckpointInterval int
}

// DefaultOptions returns safe durability, four background workers, and
// info-level logging to stderr. Open fills zero-valued Workers, BatchSize,
// LogOutput and TransactionOpCap fields from it; it does not fill in
// LogLevel.
func DefaultOptions() Options {
	return Options{
		Durability:       DurabilitySafe,
		BatchSize:        1,
		Workers:          4,
		LogOutput:        os.Stderr,
		LogLevel:         logger.LevelInfo,
		TransactionOpCap: transaction.DefaultOpCap,
	}
}

// withDefaults fills in zero-valued fields of o from DefaultOptions.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.LogOutput == nil {
		o.LogOutput = d.LogOutput
	}
	if o.TransactionOpCap <= 0 {
		o.TransactionOpCap = d.TransactionOpCap
	}
	return o
}
