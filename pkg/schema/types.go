package schema

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
)

// Kind is the destination-facing semantic type of a column.
type Kind string

const (
	KindBool      Kind = "bool"
	KindBigInt    Kind = "bigint"
	KindDouble    Kind = "double"
	KindDecimal   Kind = "decimal"
	KindText      Kind = "text"
	KindDate      Kind = "date"
	KindTime      Kind = "time"
	KindTimestamp Kind = "timestamp"
	KindBinary    Kind = "binary"
	KindJSON      Kind = "json"
)

// SemanticType describes a column's type for the destination, independent of
// the source's OID domain.
type SemanticType struct {
	Kind Kind
	// Precision and Scale are set for decimal columns whose type modifier
	// carries them.
	Precision int
	Scale     int
	// WithTimezone is set for timezone-aware timestamp and time columns.
	WithTimezone bool
}

func (t SemanticType) String() string {
	switch {
	case t.Kind == KindDecimal && t.Precision > 0:
		return fmt.Sprintf("decimal(%d,%d)", t.Precision, t.Scale)
	case (t.Kind == KindTimestamp || t.Kind == KindTime) && t.WithTimezone:
		return string(t.Kind) + " with time zone"
	default:
		return string(t.Kind)
	}
}

// NumericModifier unpacks precision and scale from a numeric type modifier.
// A modifier of -1 means the column was declared without them.
func NumericModifier(typeMod int32) (precision, scale int, ok bool) {
	if typeMod < 4 {
		return 0, 0, false
	}
	m := typeMod - 4
	return int(m>>16) & 0xffff, int(m) & 0xffff, true
}

// TypeFor maps a source type OID and modifier to a semantic type.  The
// second return is false for unrecognized OIDs, which callers must carry as
// untyped text rather than failing the row.
func TypeFor(oid uint32, typeMod int32) (SemanticType, bool) {
	switch oid {
	case pgtype.BoolOID:
		return SemanticType{Kind: KindBool}, true
	case pgtype.Int2OID, pgtype.Int4OID, pgtype.Int8OID:
		return SemanticType{Kind: KindBigInt}, true
	case pgtype.Float4OID, pgtype.Float8OID:
		return SemanticType{Kind: KindDouble}, true
	case pgtype.NumericOID:
		p, s, _ := NumericModifier(typeMod)
		return SemanticType{Kind: KindDecimal, Precision: p, Scale: s}, true
	case pgtype.TextOID, pgtype.VarcharOID, pgtype.BPCharOID, pgtype.NameOID, pgtype.UUIDOID:
		return SemanticType{Kind: KindText}, true
	case pgtype.DateOID:
		return SemanticType{Kind: KindDate}, true
	case pgtype.TimeOID:
		return SemanticType{Kind: KindTime}, true
	case pgtype.TimetzOID:
		return SemanticType{Kind: KindTime, WithTimezone: true}, true
	case pgtype.TimestampOID:
		return SemanticType{Kind: KindTimestamp}, true
	case pgtype.TimestamptzOID:
		return SemanticType{Kind: KindTimestamp, WithTimezone: true}, true
	case pgtype.ByteaOID:
		return SemanticType{Kind: KindBinary}, true
	case pgtype.JSONOID, pgtype.JSONBOID:
		return SemanticType{Kind: KindJSON}, true
	}
	return SemanticType{Kind: KindText}, false
}
