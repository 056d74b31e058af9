package schema

import (
	"github.com/bronzelake/pgcap/pkg/changeset"
)

// CatalogEntry is the per-relation schema prepared for the destination:
// the target table name, the column-to-semantic-type mapping, and the write
// disposition hints after the append-only policy has been applied.  Entries
// are derived lazily and memoized until the next relation message replaces
// the relation they were derived from.
type CatalogEntry struct {
	// Table is the destination table name.
	Table string
	// Columns maps column names to their semantic types.
	Columns map[string]SemanticType
	// KeyColumns are the replica identity columns, in column order.
	KeyColumns []string
	// Hints is the active write disposition for the table.
	Hints changeset.WriteHints
	// Fingerprint identifies the schema version the entry was derived from.
	Fingerprint uint64
}

// Catalog stores the most recent Relation per server-assigned identifier.
// It is owned by a single consumer: message processing is sequential, so no
// locking discipline beyond ordinary mutation is required.
type Catalog struct {
	relations map[uint32]*Relation
	entries   map[uint32]*CatalogEntry
}

func NewCatalog() *Catalog {
	return &Catalog{
		relations: map[uint32]*Relation{},
		entries:   map[uint32]*CatalogEntry{},
	}
}

// OnRelation records a relation announcement.  A new message for a known
// identifier replaces the prior Relation wholesale and invalidates the
// memoized CatalogEntry derived from it.
func (c *Catalog) OnRelation(rel *Relation) {
	c.relations[rel.ID] = rel
	delete(c.entries, rel.ID)
}

// Get returns the most recently announced Relation for the identifier.
// An unknown identifier is a hard failure: no subsequent row for it can be
// decoded without its schema.
func (c *Catalog) Get(relationID uint32) (*Relation, error) {
	rel, ok := c.relations[relationID]
	if !ok {
		return nil, UnknownRelationError{RelationID: relationID}
	}
	return rel, nil
}

// Entry returns the destination catalog entry for the identifier, deriving
// and memoizing it on first use.
func (c *Catalog) Entry(relationID uint32) (*CatalogEntry, error) {
	if entry, ok := c.entries[relationID]; ok {
		return entry, nil
	}
	rel, err := c.Get(relationID)
	if err != nil {
		return nil, err
	}
	entry := buildEntry(rel)
	c.entries[relationID] = entry
	return entry, nil
}

// Len returns the number of known relations.
func (c *Catalog) Len() int {
	return len(c.relations)
}

func buildEntry(rel *Relation) *CatalogEntry {
	cols := make(map[string]SemanticType, len(rel.Columns))
	for _, col := range rel.Columns {
		st, _ := TypeFor(col.TypeOID, col.TypeModifier)
		cols[col.Name] = st
	}
	return &CatalogEntry{
		Table:       rel.Name,
		Columns:     cols,
		KeyColumns:  rel.KeyColumns(),
		Hints:       ApplyWritePolicy(defaultHints(rel)),
		Fingerprint: rel.Fingerprint(),
	}
}
