package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/mcdev12/showclock/go/internal/dbconfig"
	"github.com/mcdev12/showclock/go/internal/migrations"
	"github.com/rs/zerolog/log"
)

// Databases holds both handles: database/sql for the schedule and change log
// stores, pgx for the timer store.
type Databases struct {
	SQL  *sql.DB
	Pool *pgxpool.Pool
}

func (d *Databases) Close() {
	if d.Pool != nil {
		d.Pool.Close()
	}
	if d.SQL != nil {
		if err := d.SQL.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close database")
		}
	}
}

func setupDatabase(ctx context.Context, dbConfig dbconfig.Config, migrate bool) (*Databases, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	database, err := sql.Open("postgres", dbConfig.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}
	dbs := &Databases{SQL: database}

	if err := database.PingContext(ctx); err != nil {
		dbs.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if migrate {
		if err := migrations.Apply(ctx, database); err != nil {
			dbs.Close()
			return nil, fmt.Errorf("failed to apply migrations: %w", err)
		}
	}

	poolConfig, err := dbConfig.PoolConfig()
	if err != nil {
		dbs.Close()
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		dbs.Close()
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	dbs.Pool = pool

	if err := pool.Ping(ctx); err != nil {
		dbs.Close()
		return nil, fmt.Errorf("failed to ping connection pool: %w", err)
	}

	log.Info().
		Str("user", dbConfig.User).
		Str("host", dbConfig.Host).
		Int("port", dbConfig.Port).
		Str("database", dbConfig.Database).
		Msg("connected to database")
	return dbs, nil
}
