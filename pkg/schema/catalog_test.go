package schema

import (
	"errors"
	"testing"

	"github.com/bronzelake/pgcap/pkg/changeset"
	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"
)

func invoiceRelation() *pglogrepl.RelationMessage {
	return &pglogrepl.RelationMessage{
		RelationID:   16385,
		Namespace:    "public",
		RelationName: "invoice",
		Columns: []*pglogrepl.RelationMessageColumn{
			{Flags: 1, Name: "id", DataType: pgtype.UUIDOID, TypeModifier: -1},
			{Flags: 0, Name: "total", DataType: pgtype.NumericOID, TypeModifier: ((10 << 16) | 2) + 4},
			{Flags: 0, Name: "paid", DataType: pgtype.BoolOID, TypeModifier: -1},
		},
	}
}

func TestCatalogReplacesRelations(t *testing.T) {
	c := NewCatalog()

	c.OnRelation(RelationFromMessage(invoiceRelation()))
	require.Equal(t, 1, c.Len())

	rel, err := c.Get(16385)
	require.NoError(t, err)
	require.Equal(t, "invoice", rel.Name)
	require.Equal(t, "public.invoice", rel.QualifiedName())
	require.Equal(t, []string{"id"}, rel.KeyColumns())
	require.Len(t, rel.Columns, 3)

	// A second announcement for the same ID replaces the relation
	// wholesale, even when columns disappear.
	next := invoiceRelation()
	next.Columns = next.Columns[:2]
	c.OnRelation(RelationFromMessage(next))
	require.Equal(t, 1, c.Len())

	rel, err = c.Get(16385)
	require.NoError(t, err)
	require.Len(t, rel.Columns, 2)
}

func TestCatalogUnknownRelation(t *testing.T) {
	c := NewCatalog()

	_, err := c.Get(42)
	require.Error(t, err)

	var unknown UnknownRelationError
	require.True(t, errors.As(err, &unknown))
	require.EqualValues(t, 42, unknown.RelationID)
	require.Contains(t, err.Error(), "ERR_PG_003")

	_, err = c.Entry(42)
	require.True(t, errors.As(err, &unknown))
}

func TestCatalogEntryMemoization(t *testing.T) {
	c := NewCatalog()
	c.OnRelation(RelationFromMessage(invoiceRelation()))

	a, err := c.Entry(16385)
	require.NoError(t, err)
	b, err := c.Entry(16385)
	require.NoError(t, err)
	require.Same(t, a, b, "entries should be memoized between data messages")

	// A new announcement invalidates the memoized entry.
	next := invoiceRelation()
	next.Columns = append(next.Columns, &pglogrepl.RelationMessageColumn{
		Name: "notes", DataType: pgtype.TextOID, TypeModifier: -1,
	})
	c.OnRelation(RelationFromMessage(next))

	d, err := c.Entry(16385)
	require.NoError(t, err)
	require.NotSame(t, a, d)
	require.NotEqual(t, a.Fingerprint, d.Fingerprint)
	require.Contains(t, d.Columns, "notes")
}

func TestCatalogEntryTypes(t *testing.T) {
	c := NewCatalog()
	c.OnRelation(RelationFromMessage(invoiceRelation()))

	entry, err := c.Entry(16385)
	require.NoError(t, err)

	require.Equal(t, "invoice", entry.Table)
	require.Equal(t, []string{"id"}, entry.KeyColumns)
	require.Equal(t, SemanticType{Kind: KindText}, entry.Columns["id"])
	require.Equal(t, SemanticType{Kind: KindDecimal, Precision: 10, Scale: 2}, entry.Columns["total"])
	require.Equal(t, "decimal(10,2)", entry.Columns["total"].String())
	require.Equal(t, SemanticType{Kind: KindBool}, entry.Columns["paid"])
}

func TestWritePolicyForcesAppend(t *testing.T) {
	c := NewCatalog()
	c.OnRelation(RelationFromMessage(invoiceRelation()))

	// The relation has a replica identity, so inference alone would merge
	// and hard-delete.
	rel, err := c.Get(16385)
	require.NoError(t, err)
	inferred := defaultHints(rel)
	require.Equal(t, changeset.DispositionMerge, inferred.Disposition)
	require.True(t, inferred.HardDelete)

	// The policy overrides both, regardless of keys.
	entry, err := c.Entry(16385)
	require.NoError(t, err)
	require.Equal(t, changeset.DispositionAppend, entry.Hints.Disposition)
	require.False(t, entry.Hints.HardDelete)
	require.Equal(t, "deleted_ts", entry.Hints.SoftDeleteColumn)

	keyless := &Relation{ID: 1, Name: "audit_log", Columns: []Column{
		{Name: "entry", TypeOID: pgtype.TextOID, TypeModifier: -1},
	}}
	hints := ApplyWritePolicy(defaultHints(keyless))
	require.Equal(t, changeset.DispositionAppend, hints.Disposition)
	require.False(t, hints.HardDelete)
	require.Equal(t, "deleted_ts", hints.SoftDeleteColumn)
}
