package decoder

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/bronzelake/pgcap/pkg/changeset"
	"github.com/bronzelake/pgcap/pkg/schema"
	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgtype"
)

// NewV1LogicalDecoder returns a decoder for pgoutput's v1 protocol.  The
// decoder owns the relation catalog: relation messages replace cached
// schemas before any dependent row is decoded, which is why message handling
// must stay strictly sequential.
func NewV1LogicalDecoder(
	catalog *schema.Catalog,
	publication string,
	ops changeset.PublicationOperations,
	l *slog.Logger,
) Decoder {
	if l == nil {
		l = slog.Default()
	}
	return &v1{
		typeMap:     pgtype.NewMap(),
		catalog:     catalog,
		publication: publication,
		ops:         ops,
		log:         l,
	}
}

type v1 struct {
	typeMap     *pgtype.Map
	catalog     *schema.Catalog
	publication string
	ops         changeset.PublicationOperations
	log         *slog.Logger
}

func (d *v1) ReplicationPluginArgs() []string {
	return []string{
		"proto_version '1'",
		fmt.Sprintf("publication_names '%s'", d.publication),
	}
}

func (d *v1) Decode(in []byte, cs *changeset.Changeset) (bool, error) {
	msg, err := pglogrepl.Parse(in)
	if err != nil {
		return false, fmt.Errorf("error parsing logical replication message: %w", err)
	}
	return d.decodeMessage(msg, cs)
}

func (d *v1) decodeMessage(msg pglogrepl.Message, cs *changeset.Changeset) (bool, error) {
	switch m := msg.(type) {
	case *pglogrepl.RelationMessage:
		d.catalog.OnRelation(schema.RelationFromMessage(m))
		return false, nil

	case *pglogrepl.BeginMessage:
		ct := m.CommitTime
		cs.Operation = changeset.OperationBegin
		cs.Data = changeset.Data{
			TxnID:         m.Xid,
			TxnCommitTime: &ct,
		}
		return true, nil

	case *pglogrepl.CommitMessage:
		ct := m.CommitTime
		cs.Operation = changeset.OperationCommit
		cs.Data = changeset.Data{
			TxnCommitTime: &ct,
		}
		return true, nil

	case *pglogrepl.InsertMessage:
		if d.violation(changeset.OperationInsert) {
			return false, nil
		}
		rel, entry, err := d.lookup(m.RelationID)
		if err != nil {
			return false, err
		}
		newTuple, err := d.decodeTuple(rel, m.Tuple)
		if err != nil {
			return false, err
		}
		cs.Operation = changeset.OperationInsert
		cs.Data = changeset.Data{
			RelationID: m.RelationID,
			Table:      rel.Name,
			New:        newTuple,
		}
		cs.Hints = entry.Hints
		return true, nil

	case *pglogrepl.UpdateMessage:
		if d.violation(changeset.OperationUpdate) {
			return false, nil
		}
		rel, entry, err := d.lookup(m.RelationID)
		if err != nil {
			return false, err
		}
		// The before image is only present when the table's replica
		// identity includes it.  Without it, downstream must treat the
		// update as a full overwrite by primary key.
		var old changeset.UpdateTuples
		if m.OldTuple != nil {
			if old, err = d.decodeTuple(rel, m.OldTuple); err != nil {
				return false, err
			}
		}
		newTuple, err := d.decodeTuple(rel, m.NewTuple)
		if err != nil {
			return false, err
		}
		cs.Operation = changeset.OperationUpdate
		cs.Data = changeset.Data{
			RelationID: m.RelationID,
			Table:      rel.Name,
			Old:        old,
			New:        newTuple,
		}
		cs.Hints = entry.Hints
		return true, nil

	case *pglogrepl.DeleteMessage:
		if d.violation(changeset.OperationDelete) {
			return false, nil
		}
		rel, entry, err := d.lookup(m.RelationID)
		if err != nil {
			return false, err
		}
		old, err := d.decodeTuple(rel, m.OldTuple)
		if err != nil {
			return false, err
		}
		cs.Operation = changeset.OperationDelete
		cs.Data = changeset.Data{
			RelationID: m.RelationID,
			Table:      rel.Name,
			Old:        old,
			// The write policy renders deletes as appends: the replica
			// identity columns are re-appended with the soft-delete
			// marker stamped with the capture timestamp.
			New: softDeleteRow(old, entry.Hints.SoftDeleteColumn, cs.Watermark.ServerTime),
		}
		cs.Hints = entry.Hints
		return true, nil

	case *pglogrepl.TruncateMessage:
		if d.violation(changeset.OperationTruncate) {
			return false, nil
		}
		names := make([]string, 0, len(m.RelationIDs))
		for _, id := range m.RelationIDs {
			rel, err := d.catalog.Get(id)
			if err != nil {
				return false, err
			}
			names = append(names, rel.Name)
		}
		cs.Operation = changeset.OperationTruncate
		cs.Data = changeset.Data{TruncatedTables: names}
		return true, nil

	default:
		// Type and origin messages carry no row data.
		return false, nil
	}
}

// violation reports and skips operations the publication does not forward.
// Receiving one is a protocol-consistency failure, but not fatal: the
// message is discarded and the stream continues.
func (d *v1) violation(op changeset.Operation) bool {
	if d.ops.Allows(op) {
		return false
	}
	d.log.Warn("received operation not enabled by publication; discarding message",
		"operation", string(op),
		"publication", d.publication,
	)
	return true
}

func (d *v1) lookup(relationID uint32) (*schema.Relation, *schema.CatalogEntry, error) {
	rel, err := d.catalog.Get(relationID)
	if err != nil {
		return nil, nil, err
	}
	entry, err := d.catalog.Entry(relationID)
	if err != nil {
		return nil, nil, err
	}
	return rel, entry, nil
}

func (d *v1) decodeTuple(rel *schema.Relation, tuple *pglogrepl.TupleData) (changeset.UpdateTuples, error) {
	if tuple == nil {
		return nil, nil
	}

	out := make(changeset.UpdateTuples, len(tuple.Columns))
	for i, col := range tuple.Columns {
		if i >= len(rel.Columns) {
			return nil, fmt.Errorf("tuple column %d out of range for relation %s", i, rel.Name)
		}
		meta := rel.Columns[i]

		switch col.DataType {
		case pglogrepl.TupleDataTypeNull:
			out[meta.Name] = changeset.ColumnUpdate{Encoding: "n"}
		case pglogrepl.TupleDataTypeToast:
			// Unchanged TOAST data: the value was not transmitted, which
			// is distinct from an explicit null.
			out[meta.Name] = changeset.ColumnUpdate{Encoding: "u"}
		case pglogrepl.TupleDataTypeBinary:
			out[meta.Name] = changeset.ColumnUpdate{Encoding: "b", Data: col.Data}
		default:
			cu, _, warn := DecodeColumn(d.typeMap, meta, col.Data)
			if warn != nil {
				d.log.Warn("carrying column through as raw text",
					"relation", rel.Name,
					"column", meta.Name,
					"type_oid", meta.TypeOID,
				)
			}
			out[meta.Name] = cu
		}
	}
	return out, nil
}

// softDeleteRow builds the append row for a delete event: the decoded
// replica identity columns plus the soft-delete marker.
func softDeleteRow(old changeset.UpdateTuples, column string, capturedAt time.Time) changeset.UpdateTuples {
	row := make(changeset.UpdateTuples, len(old)+1)
	for name, val := range old {
		row[name] = val
	}
	row[column] = changeset.ColumnUpdate{
		Encoding: "t",
		Data:     capturedAt.UTC().Format("2006-01-02 15:04:05.999999"),
	}
	return row
}
