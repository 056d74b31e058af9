package eventwriter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/bronzelake/pgcap/pkg/changeset"
	"github.com/stretchr/testify/require"
)

// lockedBuffer lets the test read what the writer goroutine wrote.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, b.buf.Len())
	copy(out, b.buf.Bytes())
	return out
}

func TestJSONWriter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var (
		mu        sync.Mutex
		committed []changeset.Watermark
	)

	buf := &lockedBuffer{}
	w := NewJSONWriter(ctx, buf, 100, time.Hour)
	cc := w.Listen(ctx, committerFunc(func(wm changeset.Watermark) {
		mu.Lock()
		defer mu.Unlock()
		committed = append(committed, wm)
	}))

	for _, cs := range makeChangesets(3) {
		cc <- cs
	}

	// A bounded producer finishes on its own.  Only cancellation stops the
	// listen goroutine, so Wait must come after cancel.
	cancel()

	done := make(chan struct{})
	go func() {
		w.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after cancellation")
	}

	var events []map[string]any
	scan := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for scan.Scan() {
		evt := map[string]any{}
		require.NoError(t, json.Unmarshal(scan.Bytes(), &evt))
		events = append(events, evt)
	}
	require.NoError(t, scan.Err())

	require.Len(t, events, 3, "every pending event is written on shutdown")
	for _, evt := range events {
		require.Equal(t, "pg/invoice.inserted", evt["name"])
	}

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, committed)
	require.EqualValues(t, 3, committed[len(committed)-1].LSN)
}
