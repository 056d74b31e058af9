package pgreplicator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bronzelake/pgcap/pkg/changeset"
	"github.com/bronzelake/pgcap/pkg/consts/pgconsts"
	"github.com/bronzelake/pgcap/pkg/decoder"
	"github.com/bronzelake/pgcap/pkg/replicator"
	"github.com/bronzelake/pgcap/pkg/replicator/pgreplicator/pgsetup"
	"github.com/bronzelake/pgcap/pkg/schema"
	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
)

var (
	ReadTimeout = time.Second * 5
)

// WatermarkSaver is a function which saves a given postgres watermark to storage.  This allows
// us to continue picking up from where the stream left off if services restart.
type WatermarkSaver func(ctx context.Context, watermark changeset.Watermark) error

// WatermarkLoader is a function which loads a postgres watermark for the given database connection.
//
// If this returns nil, we will start from the slot's confirmed flush LSN, ie. re-delivering
// anything the slot retained but we never acknowledged.
//
// If this returns an error the CDC replicator will fail early.
type WatermarkLoader func(ctx context.Context) (*changeset.Watermark, error)

type Opts struct {
	Config pgx.ConnConfig

	// SlotName is the replication slot to consume from.  Defaults to
	// pgconsts.SlotName.
	SlotName string
	// PublicationName is the publication whose changes are streamed.
	// Defaults to pgconsts.PublicationName.
	PublicationName string

	// StopLSN, when non-zero, bounds the stream: Pull returns once the
	// server position reaches this LSN.  When zero, the server's current
	// WAL position at connect time is used as the bound.
	StopLSN pglogrepl.LSN

	WatermarkSaver  WatermarkSaver
	WatermarkLoader WatermarkLoader

	Log *slog.Logger
}

// New returns a new bounded postgres replicator for a single postgres database.
func New(ctx context.Context, opts Opts) (replicator.Replicator, error) {
	if opts.SlotName == "" {
		opts.SlotName = pgconsts.SlotName
	}
	if opts.PublicationName == "" {
		opts.PublicationName = pgconsts.PublicationName
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}

	cfg, err := pgconn.ParseConfig(opts.Config.ConnString())
	if err != nil {
		return nil, fmt.Errorf("error parsing connection config: %w", err)
	}
	// Ensure that we add "replication": "database" to the replication
	// configuration
	replConfig := cfg.Copy()
	replConfig.RuntimeParams["replication"] = "database"
	// And for queries, ensure this is never set.
	queryConfig := opts.Config.Copy()
	delete(queryConfig.RuntimeParams, "replication")

	// Connect using pgconn for replication.  This is a prerequisite, as
	// replication uses different client connection parameters to enable specific
	// postgres functionality.
	conn, err := pgconn.ConnectConfig(ctx, replConfig)
	if err != nil {
		return nil, fmt.Errorf("error connecting to postgres host for replication: %w", err)
	}

	// The plain connection is only needed during construction: it loads the
	// publication's forwarded operations and the slot's confirmed position.
	pgxc, err := pgx.ConnectConfig(ctx, queryConfig)
	if err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("error connecting to postgres host for queries: %w", err)
	}
	defer pgxc.Close(ctx)

	ops, err := pgsetup.PublicationOperations(ctx, pgxc, opts.PublicationName)
	if err != nil {
		// The replication connection is already open; don't leak it.
		_ = conn.Close(ctx)
		return nil, err
	}

	// A missing slot is not fatal here: starting replication reports it
	// with a precise error, so we only lose the resume position.
	var confirmed pglogrepl.LSN
	row := pgxc.QueryRow(ctx,
		"SELECT confirmed_flush_lsn FROM pg_replication_slots WHERE slot_name = $1",
		opts.SlotName,
	)
	if err := row.Scan(&confirmed); err != nil {
		confirmed = 0
	}

	catalog := schema.NewCatalog()

	return &pg{
		opts:      opts,
		conn:      conn,
		catalog:   catalog,
		decoder:   decoder.NewV1LogicalDecoder(catalog, opts.PublicationName, ops, opts.Log),
		confirmed: confirmed,
		stopLSN:   opts.StopLSN,
		log:       opts.Log,
	}, nil
}

type pg struct {
	// opts stores the initialization opts, including watermark functs
	opts Opts

	// conn is the WAL connection
	conn *pgconn.PgConn
	// catalog caches relation schemas received on the stream
	catalog *schema.Catalog
	// decoder decodes the binary WAL log
	decoder decoder.Decoder
	// confirmed is the slot's confirmed flush LSN at construction, used as
	// the default resume point.
	confirmed pglogrepl.LSN
	// stopLSN bounds the stream.  Resolved at connect time when the opts
	// left it zero.
	stopLSN pglogrepl.LSN
	// serverLSN tracks the server's reported position, advanced by WAL data
	// and keepalives.  Only touched from the Pull goroutine.
	serverLSN pglogrepl.LSN
	// nextReportTime records the time in which we must next report the current
	// LSN to the pg server, advancing the replication slot.
	nextReportTime time.Time
	// lsn is the current committed LSN
	lsn uint64
	// lsnTime is the server time for the LSN, stored as a uint64 nanosecond epoch.
	lsnTime int64

	log *slog.Logger
}

// Commit commits the current watermark into the postgres replicator.  The postgres replicator
// will transmit the committed LSN to the remote server at the next interval (or on shutdown),
// and will save the committed watermark to local state via the WatermarkSaver function
// provided during instantiation.
func (p *pg) Commit(wm changeset.Watermark) {
	atomic.StoreUint64(&p.lsn, uint64(wm.LSN))
	atomic.StoreInt64(&p.lsnTime, wm.ServerTime.UnixNano())
}

func (p *pg) Connect(ctx context.Context, lsn pglogrepl.LSN) error {
	identify, err := pglogrepl.IdentifySystem(ctx, p.conn)
	if err != nil {
		return fmt.Errorf("error identifying postgres: %w", err)
	}

	if p.stopLSN == 0 {
		// Bound the stream at the server's position as of now.  Changes
		// written after this point are left for the next run.
		p.stopLSN = identify.XLogPos
	}

	// By default, resume from the slot's confirmed position, re-delivering
	// anything retained but unacknowledged.
	startLSN := p.confirmed
	if lsn > 0 {
		startLSN = lsn
	}

	// Seed the committed position so that status updates flow before the
	// first Commit.  An idle pass otherwise never answers the server's
	// keepalives and exit waits on wal_sender_timeout.
	if startLSN > 0 && p.LSN() == 0 {
		atomic.StoreUint64(&p.lsn, uint64(startLSN))
	}

	err = pglogrepl.StartReplication(
		ctx,
		p.conn,
		p.opts.SlotName,
		startLSN,
		pglogrepl.StartReplicationOptions{
			Mode:       pglogrepl.LogicalReplication,
			PluginArgs: p.decoder.ReplicationPluginArgs(),
		},
	)
	if err != nil {
		msg := err.Error()
		if strings.Contains(msg, "logical decoding requires wal_level") {
			return ErrLogicalReplicationNotSetUp
		}
		if strings.Contains(msg, fmt.Sprintf(`replication slot "%s" does not exist`, p.opts.SlotName)) {
			return ErrReplicationSlotNotFound
		}
		if strings.Contains(msg, fmt.Sprintf(`replication slot "%s" is active`, p.opts.SlotName)) {
			return ErrReplicationAlreadyRunning
		}
		return fmt.Errorf("error starting logical replication: %w", err)
	}

	p.log.Info("consuming replication slot",
		"slot", p.opts.SlotName,
		"publication", p.opts.PublicationName,
		"start_lsn", startLSN.String(),
		"stop_lsn", p.stopLSN.String(),
	)
	return nil
}

func (p *pg) Pull(ctx context.Context, cc chan *changeset.Changeset) error {
	var startLSN pglogrepl.LSN
	if p.opts.WatermarkLoader != nil {
		watermark, err := p.opts.WatermarkLoader(ctx)
		if err != nil {
			return fmt.Errorf("error loading watermark: %w", err)
		}
		if watermark != nil {
			startLSN = watermark.LSN
		}
	}

	if err := p.Connect(ctx, startLSN); err != nil {
		return err
	}

	defer func() {
		// Changesets may still be in flight through the caller's writer
		// when Pull unblocks.  Wait for those batches to commit, then
		// flush the final ack with a fresh context: the Pull context is
		// usually cancelled or the bound reached by now, and without the
		// ack the slot re-delivers everything on the next run.
		<-time.After(time.Second)
		ctx, cancel := context.WithTimeout(context.Background(), ReadTimeout)
		defer cancel()
		if err := p.report(ctx, false); err != nil {
			p.log.Error("error reporting final lsn", "error", err)
		}
	}()

	unwrapper := &txnUnwrapper{cc: cc}

	for {
		if ctx.Err() != nil {
			return nil
		}

		changes, err := p.fetch(ctx)
		if err != nil {
			return err
		}
		if changes != nil {
			unwrapper.Process(changes)
		}

		if p.serverLSN >= p.stopLSN {
			p.log.Info("reached stop position",
				"stop_lsn", p.stopLSN.String(),
				"server_lsn", p.serverLSN.String(),
			)
			return nil
		}
	}
}

func (p *pg) fetch(ctx context.Context) (*changeset.Changeset, error) {
	var err error

	defer func() {
		// Note that this reports the committed LSN called via Commit().  If the
		// caller to the postgres replicator never calls Commit() to let us know
		// that the changeset.Changeset has been fully processed, the DB will never
		// receive new updates and the WAL log will grow indefinitely.
		if time.Now().After(p.nextReportTime) {
			if err = p.report(ctx, p.nextReportTime.IsZero()); err != nil {
				p.log.Error("error reporting lsn progress", "error", err)
			}
			p.nextReportTime = time.Now().Add(5 * time.Second)
		}
	}()

	readCtx, cancel := context.WithTimeout(ctx, ReadTimeout)
	rawMsg, err := p.conn.ReceiveMessage(readCtx)
	cancel()

	if err != nil {
		if pgconn.Timeout(err) && ctx.Err() == nil {
			p.forceNextReport()
			// We return nil as we want to keep iterating.
			return nil, nil
		}
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, replicator.ConnectionError{
			LastAcknowledged: p.LSN(),
			Err:              err,
		}
	}

	if errMsg, ok := rawMsg.(*pgproto3.ErrorResponse); ok {
		return nil, fmt.Errorf("received pg wal error: %#v", errMsg)
	}

	msg, ok := rawMsg.(*pgproto3.CopyData)
	if !ok {
		return nil, fmt.Errorf("unknown message type: %T", rawMsg)
	}

	switch msg.Data[0] {
	case pglogrepl.PrimaryKeepaliveMessageByteID:
		pkm, err := pglogrepl.ParsePrimaryKeepaliveMessage(msg.Data[1:])
		if err != nil {
			return nil, fmt.Errorf("error parsing replication keepalive: %w", err)
		}
		if pkm.ServerWALEnd > p.serverLSN {
			p.serverLSN = pkm.ServerWALEnd
		}
		if pkm.ReplyRequested {
			p.forceNextReport()
		}
		return nil, nil
	case pglogrepl.XLogDataByteID:
		xld, err := pglogrepl.ParseXLogData(msg.Data[1:])
		if err != nil {
			return nil, fmt.Errorf("error parsing replication txn data: %w", err)
		}

		if end := xld.WALStart + pglogrepl.LSN(len(xld.WALData)); end > p.serverLSN {
			p.serverLSN = end
		}

		cs := changeset.Changeset{
			Watermark: changeset.Watermark{
				// NOTE: It's expected that WALStart and ServerWALEnd
				// are the same.
				LSN:        xld.WALStart,
				ServerTime: xld.ServerTime,
			},
		}

		// xld.WALData may be reused, so copy the slice ASAP.
		ok, err = p.decoder.Decode(copySlice(xld.WALData), &cs)
		if err != nil {
			return nil, fmt.Errorf("error decoding xlog data: %w", err)
		}
		if !ok {
			return nil, nil
		}
		return &cs, nil
	}

	return nil, nil
}

func (p *pg) committedWatermark() (wm changeset.Watermark) {
	lsn, nano := atomic.LoadUint64(&p.lsn), atomic.LoadInt64(&p.lsnTime)
	return changeset.Watermark{
		LSN:        pglogrepl.LSN(lsn),
		ServerTime: time.Unix(0, nano),
	}
}

func (p *pg) forceNextReport() {
	// Updating the next report time to a zero time always reports the LSN,
	// as time.Now() is always after the empty time.
	p.nextReportTime = time.Time{}
}

// report reports the current replication slot's LSN progress to the server.  We can optionally
// force the server to reply with an ack by setting forceReply to true.  This is used when we
// receive timeout errors from PG;  it acts as a ping.
func (p *pg) report(ctx context.Context, forceReply bool) error {
	lsn := p.LSN()
	if lsn == 0 {
		return nil
	}
	err := pglogrepl.SendStandbyStatusUpdate(ctx,
		p.conn,
		pglogrepl.StandbyStatusUpdate{
			WALWritePosition: lsn,
			ReplyRequested:   forceReply,
		},
	)
	if err != nil {
		return fmt.Errorf("error sending pg status update: %w", err)
	}
	if p.opts.WatermarkSaver != nil {
		// Also commit this watermark to local state.
		return p.opts.WatermarkSaver(ctx, p.committedWatermark())
	}
	return nil
}

func (p *pg) LSN() (lsn pglogrepl.LSN) {
	return pglogrepl.LSN(atomic.LoadUint64(&p.lsn))
}

// copySlice is a util for copying a slice.
func copySlice(in []byte) []byte {
	out := make([]byte, len(in))
	copy(out, in)
	return out
}
