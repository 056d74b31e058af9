// Package eventwriter batches changesets from a replicator and delivers them
// to a destination, committing watermarks as batches land.
package eventwriter

import (
	"context"
	"fmt"

	"github.com/bronzelake/pgcap/pkg/changeset"
)

const (
	eventPrefix = "pg"
)

type EventWriter interface {
	// Listen returns a channel in which Changesets can be published.  Any published
	// changesets will be broadcast as an event.
	Listen(ctx context.Context, committer changeset.WatermarkCommitter) chan *changeset.Changeset

	// Wait waits for all events to be processed before shutting down.  This must be
	// called after the Listen context has been cancelled.
	Wait()
}

// ChangesetToEvent returns a map containing event data for the given changeset.
func ChangesetToEvent(cs changeset.Changeset) map[string]any {
	var name string

	if cs.Data.Table == "" {
		name = fmt.Sprintf("%s/%s", eventPrefix, cs.Operation.ToEventVerb())
	} else {
		name = fmt.Sprintf("%s/%s.%s", eventPrefix, cs.Data.Table, cs.Operation.ToEventVerb())
	}

	return map[string]any{
		"name": name,
		"data": cs.Data,
		"ts":   cs.Watermark.ServerTime.UnixMilli(),
	}
}
