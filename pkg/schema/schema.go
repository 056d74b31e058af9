// Package schema tracks the shape of replicated tables as announced by the
// logical replication stream, and derives the destination-facing catalog
// entries used to hint the downstream loader.
package schema

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/jackc/pglogrepl"
)

// Column is a single column within a relation, as announced by a relation
// message.  Immutable once attached to a Relation.
type Column struct {
	Name string
	// TypeOID is the source type identifier for the column.
	TypeOID uint32
	// TypeModifier qualifies the type, eg. precision and scale for numerics.
	TypeModifier int32
	// IsKey marks columns which are part of the relation's replica identity.
	IsKey bool
}

// Relation identifies one source table as announced by the stream.  A new
// relation message for the same ID replaces the prior Relation wholesale;
// relations are never mutated in place, as column order and types may change
// between announcements.
type Relation struct {
	// ID is the server-assigned relation identifier, stable per schema
	// version.
	ID        uint32
	Namespace string
	Name      string
	Columns   []Column
}

// QualifiedName returns the namespace-qualified table name.
func (r *Relation) QualifiedName() string {
	if r.Namespace == "" {
		return r.Name
	}
	return fmt.Sprintf("%s.%s", r.Namespace, r.Name)
}

// KeyColumns returns the names of the replica identity columns, in column
// order.
func (r *Relation) KeyColumns() []string {
	var keys []string
	for _, c := range r.Columns {
		if c.IsKey {
			keys = append(keys, c.Name)
		}
	}
	return keys
}

// Fingerprint hashes the relation's layout.  Two announcements with the
// same fingerprint describe the same schema version.
func (r *Relation) Fingerprint() uint64 {
	d := xxhash.New()
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[:4], r.ID)
	_, _ = d.Write(buf[:4])
	_, _ = d.WriteString(r.Namespace)
	_, _ = d.WriteString(r.Name)
	for _, c := range r.Columns {
		_, _ = d.WriteString(c.Name)
		binary.LittleEndian.PutUint32(buf[:4], c.TypeOID)
		binary.LittleEndian.PutUint32(buf[4:], uint32(c.TypeModifier))
		_, _ = d.Write(buf[:])
		if c.IsKey {
			_, _ = d.Write([]byte{1})
		} else {
			_, _ = d.Write([]byte{0})
		}
	}
	return d.Sum64()
}

// RelationFromMessage converts a wire-level relation message into a Relation.
func RelationFromMessage(msg *pglogrepl.RelationMessage) *Relation {
	cols := make([]Column, len(msg.Columns))
	for i, c := range msg.Columns {
		cols[i] = Column{
			Name:         c.Name,
			TypeOID:      c.DataType,
			TypeModifier: c.TypeModifier,
			// Flag bit 0 marks replica identity membership.
			IsKey: c.Flags&1 == 1,
		}
	}
	return &Relation{
		ID:        msg.RelationID,
		Namespace: msg.Namespace,
		Name:      msg.RelationName,
		Columns:   cols,
	}
}

// UnknownRelationError indicates a data message referenced a relation which
// was never announced on the stream.  Decoding rows for the relation is
// impossible without its schema, so this is fatal for the capture pass: the
// server re-sends relation metadata on a fresh stream.
type UnknownRelationError struct {
	RelationID uint32
}

func (e UnknownRelationError) Error() string {
	return fmt.Sprintf("ERR_PG_003: data message references relation %d before any relation message announced it", e.RelationID)
}
