package decoder

import (
	"testing"

	"github.com/bronzelake/pgcap/pkg/changeset"
	"github.com/bronzelake/pgcap/pkg/schema"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"
)

func TestDecodeColumn(t *testing.T) {
	m := pgtype.NewMap()

	t.Run("integers decode to int64", func(t *testing.T) {
		for _, oid := range []uint32{pgtype.Int2OID, pgtype.Int4OID, pgtype.Int8OID} {
			cu, st, warn := DecodeColumn(m, schema.Column{Name: "n", TypeOID: oid, TypeModifier: -1}, []byte("123"))
			require.Nil(t, warn)
			require.Equal(t, schema.KindBigInt, st.Kind)
			require.Equal(t, changeset.ColumnUpdate{Encoding: "i", Data: int64(123)}, cu)
		}
	})

	t.Run("floats decode to float64", func(t *testing.T) {
		cu, st, warn := DecodeColumn(m, schema.Column{Name: "f", TypeOID: pgtype.Float8OID, TypeModifier: -1}, []byte("1.25"))
		require.Nil(t, warn)
		require.Equal(t, schema.KindDouble, st.Kind)
		require.Equal(t, changeset.ColumnUpdate{Encoding: "f", Data: 1.25}, cu)
	})

	t.Run("decimals keep their exact text", func(t *testing.T) {
		col := schema.Column{Name: "total", TypeOID: pgtype.NumericOID, TypeModifier: ((10 << 16) | 2) + 4}
		cu, st, warn := DecodeColumn(m, col, []byte("12345.67"))
		require.Nil(t, warn)
		require.Equal(t, schema.KindDecimal, st.Kind)
		require.Equal(t, 10, st.Precision)
		require.Equal(t, 2, st.Scale)
		require.Equal(t, changeset.ColumnUpdate{Encoding: "t", Data: "12345.67"}, cu)
	})

	t.Run("booleans pass through as text", func(t *testing.T) {
		cu, _, warn := DecodeColumn(m, schema.Column{Name: "b", TypeOID: pgtype.BoolOID, TypeModifier: -1}, []byte("t"))
		require.Nil(t, warn)
		require.Equal(t, changeset.ColumnUpdate{Encoding: "t", Data: "t"}, cu)
	})

	t.Run("timestamps pass through as text", func(t *testing.T) {
		cu, st, warn := DecodeColumn(m, schema.Column{Name: "ts", TypeOID: pgtype.TimestampOID, TypeModifier: -1}, []byte("2024-08-30 07:40:00"))
		require.Nil(t, warn)
		require.Equal(t, schema.KindTimestamp, st.Kind)
		require.Equal(t, changeset.ColumnUpdate{Encoding: "t", Data: "2024-08-30 07:40:00"}, cu)
	})

	t.Run("bytea decodes to raw bytes", func(t *testing.T) {
		cu, st, warn := DecodeColumn(m, schema.Column{Name: "blob", TypeOID: pgtype.ByteaOID, TypeModifier: -1}, []byte(`\x6869`))
		require.Nil(t, warn)
		require.Equal(t, schema.KindBinary, st.Kind)
		require.Equal(t, "b", cu.Encoding)
		require.Equal(t, []byte("hi"), cu.Data)
	})

	t.Run("unknown oids fall back to text with a warning", func(t *testing.T) {
		cu, st, warn := DecodeColumn(m, schema.Column{Name: "doc", TypeOID: 142, TypeModifier: -1}, []byte("<a/>"))
		require.NotNil(t, warn)
		require.Equal(t, "doc", warn.Column)
		require.EqualValues(t, 142, warn.TypeOID)
		require.Equal(t, schema.KindText, st.Kind)
		require.Equal(t, changeset.ColumnUpdate{Encoding: "t", Data: "<a/>"}, cu)
	})

	t.Run("malformed integers fall back to text", func(t *testing.T) {
		cu, _, warn := DecodeColumn(m, schema.Column{Name: "n", TypeOID: pgtype.Int8OID, TypeModifier: -1}, []byte("not-a-number"))
		require.NotNil(t, warn)
		require.Equal(t, changeset.ColumnUpdate{Encoding: "t", Data: "not-a-number"}, cu)
	})
}
