package decoder

import (
	"github.com/bronzelake/pgcap/pkg/changeset"
	"github.com/bronzelake/pgcap/pkg/schema"
	"github.com/jackc/pgx/v5/pgtype"
)

// DecodeColumn converts a column's text-format wire value into a typed
// column update and its semantic type.  Unrecognized type OIDs never fail:
// the value is carried as raw text and a DecodeWarning is returned alongside
// it so the caller can log and continue.
func DecodeColumn(m *pgtype.Map, col schema.Column, data []byte) (changeset.ColumnUpdate, schema.SemanticType, *DecodeWarning) {
	st, known := schema.TypeFor(col.TypeOID, col.TypeModifier)
	if !known {
		return textUpdate(data), st, &DecodeWarning{
			Column:  col.Name,
			TypeOID: col.TypeOID,
		}
	}

	switch st.Kind {
	case schema.KindBigInt:
		val, err := decodeValue(m, col.TypeOID, data)
		if err != nil {
			return textUpdate(data), st, &DecodeWarning{Column: col.Name, TypeOID: col.TypeOID, Err: err}
		}
		return changeset.ColumnUpdate{Encoding: "i", Data: toInt64(val)}, st, nil
	case schema.KindDouble:
		val, err := decodeValue(m, col.TypeOID, data)
		if err != nil {
			return textUpdate(data), st, &DecodeWarning{Column: col.Name, TypeOID: col.TypeOID, Err: err}
		}
		return changeset.ColumnUpdate{Encoding: "f", Data: toFloat64(val)}, st, nil
	case schema.KindBinary:
		val, err := decodeValue(m, col.TypeOID, data)
		if err != nil {
			return textUpdate(data), st, &DecodeWarning{Column: col.Name, TypeOID: col.TypeOID, Err: err}
		}
		bytes, ok := val.([]byte)
		if !ok {
			return textUpdate(data), st, &DecodeWarning{Column: col.Name, TypeOID: col.TypeOID}
		}
		return changeset.ColumnUpdate{Encoding: "b", Data: bytes}, st, nil
	default:
		// Booleans, decimals, text, dates, times, timestamps and JSON are
		// carried in their exact text representation.  Decimals in
		// particular must not round-trip through floats.
		return textUpdate(data), st, nil
	}
}

func textUpdate(data []byte) changeset.ColumnUpdate {
	return changeset.ColumnUpdate{Encoding: "t", Data: string(data)}
}

func decodeValue(m *pgtype.Map, oid uint32, data []byte) (any, error) {
	typ, ok := m.TypeForOID(oid)
	if !ok {
		return string(data), nil
	}
	return typ.Codec.DecodeValue(m, oid, pgtype.TextFormatCode, data)
}

func toInt64(val any) int64 {
	switch v := val.(type) {
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	}
	return 0
}

func toFloat64(val any) float64 {
	switch v := val.(type) {
	case float32:
		return float64(v)
	case float64:
		return v
	}
	return 0
}
