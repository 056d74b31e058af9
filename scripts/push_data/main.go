package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jackc/pgx/v5/pgconn"
)

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

func main() {
	ctx := context.Background()
	c, err := pgconn.Connect(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		panic(err)
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, os.Kill)
	defer cancel()

	for {
		if ctx.Err() != nil {
			return
		}

		id := hash(rand.Int63())

		// Continue to enqueue customers every interval.
		res := c.ExecParams(ctx,
			`INSERT INTO customer
				(name, email, balance, active) VALUES
				($1,   $2,    $3,      $4)`,
			[][]byte{
				[]byte(id),
				[]byte(id + "@example.com"),
				[]byte(fmt.Sprintf("%d.%04d", rand.Intn(10000), rand.Intn(10000))),
				[]byte("true"),
			},
			nil, nil, nil,
		)
		if _, err := res.Close(); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			panic(err)
		}
		fmt.Println("Customer inserted")

		// Maybe update the customer.
		res = c.ExecParams(ctx,
			`UPDATE customer SET balance = $1, updated_at = now() WHERE email = $2`,
			[][]byte{
				[]byte(fmt.Sprintf("%d.%04d", rand.Intn(10000), rand.Intn(10000))),
				[]byte(id + "@example.com"),
			},
			nil, nil, nil,
		)
		if _, err := res.Close(); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			panic(err)
		}
		fmt.Println("Customer updated")

		// And occasionally delete one so soft-delete events appear on
		// the stream.
		if rand.Intn(3) == 0 {
			res = c.ExecParams(ctx,
				`DELETE FROM customer WHERE email = $1`,
				[][]byte{
					[]byte(id + "@example.com"),
				},
				nil, nil, nil,
			)
			if _, err := res.Close(); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				panic(err)
			}
			fmt.Println("Customer deleted")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}
