package replicator

import (
	"context"
	"fmt"

	"github.com/bronzelake/pgcap/pkg/changeset"
	"github.com/jackc/pglogrepl"
)

type Replicator interface {
	// Pull is a blocking method which pulls changes from an external source,
	// sending all found changesets on the given changeset channel.
	Pull(context.Context, chan *changeset.Changeset) error

	changeset.WatermarkCommitter
}

// ConnectionStepResult records the outcome of a single initialization step.
type ConnectionStepResult struct {
	Error    error `json:"error"`
	Complete bool  `json:"complete"`
}

// ConnectionResult is the result of checking or performing initialization
// against an external source.
type ConnectionResult interface {
	// Steps returns the setup step names in execution order.
	Steps() []string
	// Results returns the result of each setup step.
	Results() map[string]ConnectionStepResult
}

// SystemInitializer prepares an external system for replication, eg. creating
// replication slots and publications within postgres.
type SystemInitializer[T ConnectionResult] interface {
	// PerformInit performs the initialization for the system.
	PerformInit(ctx context.Context) (T, error)
	// CheckInit checks whether initialization is complete without modifying
	// the system.
	CheckInit(ctx context.Context) (T, error)
}

// ConnectionError wraps transport errors raised during streaming, carrying the
// last acknowledged position so callers can resume from a safe watermark.
type ConnectionError struct {
	LastAcknowledged pglogrepl.LSN
	Err              error
}

func (c ConnectionError) Error() string {
	return fmt.Sprintf("replication connection error at %s: %s", c.LastAcknowledged, c.Err)
}

func (c ConnectionError) Unwrap() error {
	return c.Err
}
