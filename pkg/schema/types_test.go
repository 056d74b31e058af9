package schema

import (
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"
)

func TestNumericModifier(t *testing.T) {
	p, s, ok := NumericModifier(((10 << 16) | 2) + 4)
	require.True(t, ok)
	require.Equal(t, 10, p)
	require.Equal(t, 2, s)

	p, s, ok = NumericModifier(((18 << 16) | 0) + 4)
	require.True(t, ok)
	require.Equal(t, 18, p)
	require.Equal(t, 0, s)

	// Declared without precision and scale.
	_, _, ok = NumericModifier(-1)
	require.False(t, ok)
}

func TestTypeFor(t *testing.T) {
	tests := []struct {
		oid     uint32
		typeMod int32
		want    SemanticType
		known   bool
	}{
		{pgtype.BoolOID, -1, SemanticType{Kind: KindBool}, true},
		{pgtype.Int2OID, -1, SemanticType{Kind: KindBigInt}, true},
		{pgtype.Int4OID, -1, SemanticType{Kind: KindBigInt}, true},
		{pgtype.Int8OID, -1, SemanticType{Kind: KindBigInt}, true},
		{pgtype.Float4OID, -1, SemanticType{Kind: KindDouble}, true},
		{pgtype.Float8OID, -1, SemanticType{Kind: KindDouble}, true},
		{pgtype.NumericOID, ((10 << 16) | 2) + 4, SemanticType{Kind: KindDecimal, Precision: 10, Scale: 2}, true},
		{pgtype.TextOID, -1, SemanticType{Kind: KindText}, true},
		{pgtype.VarcharOID, 259, SemanticType{Kind: KindText}, true},
		{pgtype.UUIDOID, -1, SemanticType{Kind: KindText}, true},
		{pgtype.DateOID, -1, SemanticType{Kind: KindDate}, true},
		{pgtype.TimeOID, -1, SemanticType{Kind: KindTime}, true},
		{pgtype.TimetzOID, -1, SemanticType{Kind: KindTime, WithTimezone: true}, true},
		{pgtype.TimestampOID, -1, SemanticType{Kind: KindTimestamp}, true},
		{pgtype.TimestamptzOID, -1, SemanticType{Kind: KindTimestamp, WithTimezone: true}, true},
		{pgtype.ByteaOID, -1, SemanticType{Kind: KindBinary}, true},
		{pgtype.JSONBOID, -1, SemanticType{Kind: KindJSON}, true},
		// xml has no mapping and must fall back to text without failing.
		{142, -1, SemanticType{Kind: KindText}, false},
	}

	for _, tt := range tests {
		got, known := TypeFor(tt.oid, tt.typeMod)
		require.Equal(t, tt.want, got, "oid %d", tt.oid)
		require.Equal(t, tt.known, known, "oid %d", tt.oid)
	}
}

func TestSemanticTypeString(t *testing.T) {
	require.Equal(t, "timestamp with time zone", SemanticType{Kind: KindTimestamp, WithTimezone: true}.String())
	require.Equal(t, "timestamp", SemanticType{Kind: KindTimestamp}.String())
	require.Equal(t, "bigint", SemanticType{Kind: KindBigInt}.String())
}
