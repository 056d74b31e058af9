package changeset

import (
	"strings"
	"time"

	"github.com/jackc/pglogrepl"
)

type Operation string

const (
	OperationBegin    = "BEGIN"
	OperationCommit   = "COMMIT"
	OperationInsert   = "INSERT"
	OperationUpdate   = "UPDATE"
	OperationDelete   = "DELETE"
	OperationTruncate = "TRUNCATE"
)

func (o Operation) ToEventVerb() string {
	switch o {
	case OperationBegin:
		return "tx-began"
	case OperationCommit:
		return "tx-committed"
	case OperationInsert:
		return "inserted"
	case OperationUpdate:
		return "updated"
	case OperationDelete:
		return "deleted"
	case OperationTruncate:
		return "truncated"
	default:
		return strings.ToLower(string(o))
	}
}

type WatermarkCommitter interface {
	// Commit commits the current watermark across the backing datastores - remote
	// and local.  Note that the remote may be committed at specific intervals,
	// so no guarantee of an immediate commit is provided.
	Commit(Watermark)
}

type Changeset struct {
	// Watermark represents the internal watermark for this changeset op.
	Watermark Watermark `json:"watermark"`

	// Operation represents the operation type for this event.
	Operation Operation `json:"operation"`

	// Data represents the actual data for the operation
	Data Data `json:"data"`

	// Hints carries the active write-disposition for the changeset's table,
	// after the append-only policy has been applied.
	Hints WriteHints `json:"hints"`
}

type Watermark struct {
	LSN        pglogrepl.LSN
	ServerTime time.Time
}

type Data struct {
	// TxnID is the transaction ID assigned by the server, present on BEGIN
	// and COMMIT operations.
	TxnID         uint32     `json:"txn_id,omitempty"`
	TxnCommitTime *time.Time `json:"txn_commit_time,omitempty"`

	// RelationID identifies the relation a row operation belongs to, as
	// announced by the stream's relation messages.
	RelationID uint32 `json:"relation_id,omitempty"`

	Table string       `json:"table,omitempty"`
	Old   UpdateTuples `json:"old,omitempty"`
	New   UpdateTuples `json:"new,omitempty"`

	// TruncatedTables represents the table names truncated in a Truncate operation
	TruncatedTables []string `json:"truncated_tables,omitempty"`
}

type UpdateTuples map[string]ColumnUpdate

type ColumnUpdate struct {
	// Encoding represents the encoding of the data in Data.  This may be one of:
	//
	// - "n", representing null data.
	// - "u", representing the unchanged TOAST data within postgres
	// - "t", representing text-encoded data
	// - "b", representing binary data.
	// - "i", representing an integer
	// - "f", representing a float
	Encoding string `json:"encoding"`
	// Data is the value of the column.  If this is binary data, this data will be
	// base64 encoded.
	Data any `json:"data"`
}

// Disposition is the write disposition a destination should apply to a
// table's changesets.
type Disposition string

const (
	DispositionAppend Disposition = "append"
	DispositionMerge  Disposition = "merge"
)

// WriteHints describes how a destination should apply changesets for a
// table.  The capture pass forces every table to append-only delivery:
// deletes are re-appended with the soft-delete column populated rather than
// removing rows downstream.
type WriteHints struct {
	Disposition Disposition `json:"disposition"`
	// HardDelete, when false, instructs the destination never to remove
	// rows on delete events.
	HardDelete bool `json:"hard_delete"`
	// SoftDeleteColumn is the marker column populated with the capture
	// timestamp when a delete event is re-appended.
	SoftDeleteColumn string `json:"soft_delete_column,omitempty"`
}

// PublicationOperations describes the operation kinds a publication forwards
// to its subscribers.  Loaded once at session start and used to validate the
// stream: a message for a disabled operation is a protocol violation.
type PublicationOperations struct {
	Insert   bool
	Update   bool
	Delete   bool
	Truncate bool
}

// Allows reports whether the publication forwards the given operation.
// BEGIN and COMMIT delimiters are always forwarded.
func (p PublicationOperations) Allows(op Operation) bool {
	switch op {
	case OperationInsert:
		return p.Insert
	case OperationUpdate:
		return p.Update
	case OperationDelete:
		return p.Delete
	case OperationTruncate:
		return p.Truncate
	default:
		return true
	}
}
