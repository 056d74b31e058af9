package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bronzelake/pgcap/internal/config"
	"github.com/bronzelake/pgcap/pkg/eventwriter"
	"github.com/bronzelake/pgcap/pkg/replicator/pgreplicator"
	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5"
)

func main() {
	var (
		mode       = flag.String("mode", "", "run mode: cdc")
		configPath = flag.String("config", "", "path to yaml config")
	)
	flag.Parse()

	if *mode == "" {
		*mode = os.Getenv("PIPELINE_MODE")
	}
	if *mode == "" {
		*mode = "cdc"
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
	defer cancel()

	switch *mode {
	case "cdc":
		if err := runCDC(ctx, cfg, log); err != nil {
			log.Error("cdc run failed", "error", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown mode: %s\n", *mode)
		os.Exit(1)
	}
}

func runCDC(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	connCfg, err := pgx.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("error parsing database url: %w", err)
	}

	tables := cfg.Replication.TableNames
	if len(tables) == 0 {
		if tables, err = discoverTables(ctx, connCfg, cfg.Replication.SchemaName); err != nil {
			return err
		}
	}

	setup, err := pgreplicator.NewInitializer(ctx, pgreplicator.InitializerOpts{
		AdminConfig:     *connCfg,
		SlotName:        cfg.Replication.SlotName,
		PublicationName: cfg.Replication.PublicationName,
		SchemaName:      cfg.Replication.SchemaName,
		TableNames:      tables,
	})
	if err != nil {
		return err
	}
	if _, err := setup.PerformInit(ctx); err != nil {
		return fmt.Errorf("error initializing replication: %w", err)
	}

	r, err := pgreplicator.New(ctx, pgreplicator.Opts{
		Config:          *connCfg,
		SlotName:        cfg.Replication.SlotName,
		PublicationName: cfg.Replication.PublicationName,
		Log:             log,
	})
	if err != nil {
		return err
	}

	// The writer's goroutine only exits when its context is cancelled, so
	// it gets its own cancel: a bounded Pull returns on its own, and Wait
	// would otherwise block forever.
	writerCtx, stopWriter := context.WithCancel(ctx)
	defer stopWriter()

	out := &lineCountWriter{w: os.Stdout}
	writer := eventwriter.NewJSONWriter(writerCtx, out, 64, 100*time.Millisecond)
	csChan := writer.Listen(writerCtx, r)

	err = r.Pull(ctx, csChan)
	stopWriter()
	writer.Wait()

	var lastLSN string
	if l, ok := r.(interface{ LSN() pglogrepl.LSN }); ok {
		lastLSN = l.LSN().String()
	}

	log.Info("cdc pass complete",
		"tables", strings.Join(tables, ","),
		"slot", cfg.Replication.SlotName,
		"publication", cfg.Replication.PublicationName,
		"events", out.lines(),
		"last_lsn", lastLSN,
	)
	return err
}

// lineCountWriter counts newline-terminated records as they pass through,
// giving the run summary an event count without touching the JSON writer.
type lineCountWriter struct {
	w io.Writer
	n atomic.Int64
}

func (l *lineCountWriter) Write(p []byte) (int, error) {
	l.n.Add(int64(bytes.Count(p, []byte{'\n'})))
	return l.w.Write(p)
}

func (l *lineCountWriter) lines() int64 {
	return l.n.Load()
}

// discoverTables lists user tables in the schema, skipping internal tables
// prefixed with an underscore.
func discoverTables(ctx context.Context, cfg *pgx.ConnConfig, schemaName string) ([]string, error) {
	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("error connecting for table discovery: %w", err)
	}
	defer conn.Close(ctx)

	rows, err := conn.Query(ctx,
		"SELECT tablename FROM pg_tables WHERE schemaname = $1 AND tablename NOT LIKE '\\_%' ORDER BY tablename",
		schemaName,
	)
	if err != nil {
		return nil, fmt.Errorf("error discovering tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
