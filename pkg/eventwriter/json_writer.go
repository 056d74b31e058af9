package eventwriter

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/bronzelake/pgcap/pkg/changeset"
)

// NewJSONWriter writes each changeset batch to the given writer as JSON
// lines, one event per line.  Writes are serialized; the writer does not
// need to be safe for concurrent use.
func NewJSONWriter(
	ctx context.Context,
	w io.Writer,
	batchSize int,
	batchTimeout time.Duration,
) EventWriter {
	var mu sync.Mutex
	enc := json.NewEncoder(w)
	return NewCallbackWriter(ctx, batchSize, batchTimeout, func(batch []*changeset.Changeset) error {
		mu.Lock()
		defer mu.Unlock()
		for _, cs := range batch {
			if cs == nil {
				break
			}
			if err := enc.Encode(ChangesetToEvent(*cs)); err != nil {
				return err
			}
		}
		return nil
	})
}
