// Package decoder decodes the binary logical replication stream into
// changesets, keeping the relation catalog current as schemas are announced
// mid-stream.
package decoder

import (
	"fmt"

	"github.com/bronzelake/pgcap/pkg/changeset"
)

type Decoder interface {
	// Decode accepts CDC input and updates the changeset after decoding the given
	// input from the database.
	//
	// It returns whether the changeset should propagate an event and any errors when
	// decoding the input.
	Decode(in []byte, cs *changeset.Changeset) (bool, error)

	// ReplicationPluginArgs returns any arguments used within Postgres' replication plugins.
	ReplicationPluginArgs() []string
}

// DecodeWarning is a non-fatal, per-column decode failure.  The column is
// carried through as raw text and the rest of the row decodes normally.
type DecodeWarning struct {
	Column  string
	TypeOID uint32
	Err     error
}

func (w DecodeWarning) Error() string {
	return fmt.Sprintf("could not decode column %q (oid %d): %v", w.Column, w.TypeOID, w.Err)
}

func (w DecodeWarning) Unwrap() error {
	return w.Err
}
