package schema

import (
	"github.com/bronzelake/pgcap/pkg/changeset"
	"github.com/bronzelake/pgcap/pkg/consts/pgconsts"
)

// defaultHints returns the write disposition the schema inference would
// choose on its own: merge by replica identity when the relation has key
// columns, plain append otherwise.
func defaultHints(rel *Relation) changeset.WriteHints {
	if len(rel.KeyColumns()) > 0 {
		return changeset.WriteHints{
			Disposition: changeset.DispositionMerge,
			HardDelete:  true,
		}
	}
	return changeset.WriteHints{Disposition: changeset.DispositionAppend}
}

// ApplyWritePolicy forces append-only delivery for every captured table.
// Merge dispositions and hard deletes are suppressed: a delete event is
// re-appended with the soft-delete column stamped with the capture
// timestamp, so the destination keeps every version of every row.
func ApplyWritePolicy(h changeset.WriteHints) changeset.WriteHints {
	h.Disposition = changeset.DispositionAppend
	h.HardDelete = false
	h.SoftDeleteColumn = pgconsts.SoftDeleteColumn
	return h
}
