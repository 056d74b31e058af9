package main

import (
	"context"
	"fmt"
	"os"

	"github.com/bronzelake/pgcap/pkg/consts/pgconsts"
	"github.com/jackc/pgx/v5/pgconn"
)

func main() {
	ctx := context.Background()
	c, err := pgconn.Connect(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		panic(err)
	}

	if err := prepareRoles(ctx, c); err != nil {
		panic(err)
	}

	if err := createReplication(ctx, c); err != nil {
		panic(err)
	}

	if err := createTables(ctx, c); err != nil {
		panic(err)
	}
}

func prepareRoles(ctx context.Context, c *pgconn.PgConn) error {
	stmt := fmt.Sprintf(`
		CREATE USER %[1]s WITH REPLICATION PASSWORD 'password';
		GRANT USAGE ON SCHEMA public TO %[1]s;
		GRANT SELECT ON ALL TABLES IN SCHEMA public TO %[1]s;
		ALTER DEFAULT PRIVILEGES IN SCHEMA public GRANT SELECT ON TABLES TO %[1]s;
		CREATE PUBLICATION %[2]s FOR ALL TABLES;
	`, pgconsts.Username, pgconsts.PublicationName)
	res := c.Exec(ctx, stmt)
	if err := res.Close(); err != nil {
		return err
	}
	return nil
}

func createReplication(ctx context.Context, c *pgconn.PgConn) error {
	stmt := fmt.Sprintf(`
		-- pgoutput logical repl plugin
		SELECT pg_create_logical_replication_slot('%s', '%s');
	`, pgconsts.SlotName, pgconsts.OutputPlugin)
	res := c.Exec(ctx, stmt)
	if err := res.Close(); err != nil {
		return err
	}
	return nil
}

func createTables(ctx context.Context, c *pgconn.PgConn) error {
	stmt := `
		CREATE EXTENSION IF NOT EXISTS "pgcrypto" WITH SCHEMA public;

		ALTER DATABASE postgres SET lock_timeout=5000;

		CREATE TABLE customer (
		  id uuid DEFAULT public.gen_random_uuid() PRIMARY KEY NOT NULL,
		  name varchar(255),
		  email varchar(255) NOT NULL UNIQUE,

		  balance numeric(12,4) DEFAULT 0 NOT NULL,
		  active boolean,
		  metadata jsonb,

		  created_at timestamp without time zone NOT NULL default now(),
		  updated_at timestamp without time zone NOT NULL default now()
		);
		ALTER TABLE customer REPLICA IDENTITY FULL;

		CREATE TABLE invoice (
		  id uuid DEFAULT public.gen_random_uuid() PRIMARY KEY NOT NULL,
		  customer_id uuid NOT NULL CONSTRAINT invoice_customer_id REFERENCES customer ON DELETE CASCADE,
		  total numeric(10,2) NOT NULL,
		  paid boolean DEFAULT false NOT NULL,
		  due_date date,
		  notes text,

		  created_at timestamp without time zone NOT NULL default now(),
		  updated_at timestamp without time zone NOT NULL default now()
		);
		ALTER TABLE invoice REPLICA IDENTITY FULL;
	`
	res := c.Exec(ctx, stmt)
	if err := res.Close(); err != nil {
		return err
	}
	return nil
}
