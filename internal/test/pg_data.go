package test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"testing"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

const (
	DefaultSeed         = 123
	// DefaultCustomerUUID is the id of the first customer generated with
	// DefaultSeed, so invoice fixtures can reference it without re-deriving.
	DefaultCustomerUUID = "6db2bd8a-2a2f-52d3-aa79-abb4015d6dbd"
)

type InsertOpts struct {
	Seed int64

	Max      int
	Interval time.Duration
}

func DataConn(t *testing.T, cfg pgx.ConnConfig) *pgx.Conn {
	// The data user always has the user 'postgres'
	cfg.User = "postgres"
	c, err := pgx.ConnectConfig(context.Background(), &cfg)
	require.NoError(t, err)
	return c
}

// InsertCustomers inserts deterministic customer rows.  With the same seed the
// same rows are generated, so assertions can predict ids and values.
func InsertCustomers(t *testing.T, ctx context.Context, cfg pgx.ConnConfig, opts InsertOpts) {
	t.Helper()

	if opts.Seed == 0 {
		opts.Seed = DefaultSeed
	}
	if opts.Max == 0 {
		opts.Max = 1
	}

	c := DataConn(t, cfg)
	defer c.Close(ctx)

	at := time.Unix(1725000000, 0).UTC()

	rand := rand.New(rand.NewSource(opts.Seed))

	for i := 0; i < opts.Max; i++ {
		id := hash(rand.Int63())
		pk := uuid.NewSHA1(uuid.NameSpaceOID, []byte(id))
		rows, err := c.Query(ctx,
			`INSERT INTO customer
				(id, name, email,            balance, active, metadata, created_at, updated_at) VALUES
				($1, $2,   $3,               $4,      $5,     $6,       $7,         $8)`,
			pk,
			id,
			id+"@example.com",
			fmt.Sprintf("%d.%04d", rand.Intn(10000), rand.Intn(10000)),
			true,
			[]byte(`{"ok":true}`),
			at,
			at,
		)

		if !errors.Is(err, context.Canceled) {
			require.NoError(t, err)
		}
		rows.Close()
		if opts.Interval > 0 {
			<-time.After(opts.Interval)
		}
	}
}

// InsertInvoices inserts deterministic invoice rows for the given customer.
func InsertInvoices(t *testing.T, ctx context.Context, cfg pgx.ConnConfig, customerID uuid.UUID, opts InsertOpts) {
	t.Helper()

	if opts.Seed == 0 {
		opts.Seed = DefaultSeed
	}
	if opts.Max == 0 {
		opts.Max = 1
	}

	c := DataConn(t, cfg)
	defer c.Close(ctx)

	at := time.Unix(1725000000, 0).UTC()

	rand := rand.New(rand.NewSource(opts.Seed))

	for i := 0; i < opts.Max; i++ {
		id := hash(rand.Int63())
		pk := uuid.NewSHA1(uuid.NameSpaceOID, []byte(id))
		rows, err := c.Query(ctx,
			`INSERT INTO invoice
				(id, customer_id, total, paid, due_date, notes, created_at, updated_at) VALUES
				($1, $2,          $3,    $4,   $5,       $6,    $7,         $8)`,
			pk,
			customerID,
			fmt.Sprintf("%d.%02d", rand.Intn(100000), rand.Intn(100)),
			rand.Intn(2) == 0,
			at.AddDate(0, 1, 0),
			"invoice "+id,
			at,
			at,
		)

		if !errors.Is(err, context.Canceled) {
			require.NoError(t, err)
		}
		rows.Close()
		if opts.Interval > 0 {
			<-time.After(opts.Interval)
		}
	}
}

func hash(in any) string {
	switch v := in.(type) {
	case string:
		ui := xxhash.Sum64String(v)
		return strconv.FormatUint(ui, 36)
	default:
		ui := xxhash.Sum64String(fmt.Sprintf("%v", in))
		return strconv.FormatUint(ui, 36)
	}
}
