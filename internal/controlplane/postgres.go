// Package controlplane wraps the Postgres-backed control-plane reads that
// back the Destination Cache (C14) and Platform Cache (C15): destinations,
// campaigns and platforms. Grounded directly on internal/db/postgres.go's
// otelsql-registered, connection-pooled *sql.DB wrapper and embedded-schema
// pattern, generalized from ad-serving tables (publishers/line_items/
// creatives) to this spec's destinations/campaigns/platforms tables.
package controlplane

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/XSAM/otelsql"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Postgres wraps a postgres connection pool.
type Postgres struct {
	DB *sql.DB
}

const schemaSQL = `CREATE TABLE IF NOT EXISTS destinations (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    url TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'active',
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS platforms (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    click_id_param TEXT NOT NULL DEFAULT 'clickid'
);

CREATE TABLE IF NOT EXISTS campaigns (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    site_id TEXT,
    platform_id TEXT REFERENCES platforms(id),
    kv_key TEXT NOT NULL,
    name TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_destinations_user_id ON destinations (user_id);
CREATE INDEX IF NOT EXISTS idx_campaigns_kv_key ON campaigns (kv_key);
CREATE INDEX IF NOT EXISTS idx_campaigns_platform_id ON campaigns (platform_id);
`

// Destination is a resolvable redirect/offer target, the row behind C14.
type Destination struct {
	ID        string
	UserID    string
	URL       string
	Status    string
	UpdatedAt time.Time
}

// Platform is an affiliate network/tracker identity, the row behind C15.
type Platform struct {
	ID           string
	Name         string
	ClickIDParam string
}

// Campaign links a resolved rule bundle back to its owning platform.
type Campaign struct {
	ID         string
	UserID     string
	SiteID     string
	PlatformID string
	KVKey      string
	Name       string
}

// Init connects to Postgres with connection pooling and ensures the schema
// exists, mirroring internal/db/postgres.go's InitPostgres.
func Init(dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (*Postgres, error) {
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.connection_string", dsn),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("register otelsql: %w", err)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	p := &Postgres{DB: db}
	if err := p.ensureSchema(); err != nil {
		return nil, err
	}
	zap.L().Info("connected to postgres control plane",
		zap.Int("max_open_conns", maxOpenConns),
		zap.Int("max_idle_conns", maxIdleConns),
		zap.Duration("conn_max_lifetime", connMaxLifetime))
	return p, nil
}

// Close terminates the connection pool.
func (p *Postgres) Close() {
	if p != nil && p.DB != nil {
		if err := p.DB.Close(); err != nil {
			zap.L().Error("postgres close", zap.Error(err))
		}
	}
}

func (p *Postgres) ensureSchema() error {
	if _, err := p.DB.ExecContext(context.Background(), schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// GetDestination fetches a single destination by ID.
func (p *Postgres) GetDestination(ctx context.Context, id string) (*Destination, error) {
	var d Destination
	err := p.DB.QueryRowContext(ctx,
		`SELECT id, user_id, url, status, updated_at FROM destinations WHERE id=$1`, id,
	).Scan(&d.ID, &d.UserID, &d.URL, &d.Status, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query destination: %w", err)
	}
	return &d, nil
}

// GetPlatform fetches a single platform by ID.
func (p *Postgres) GetPlatform(ctx context.Context, id string) (*Platform, error) {
	var pl Platform
	err := p.DB.QueryRowContext(ctx,
		`SELECT id, name, click_id_param FROM platforms WHERE id=$1`, id,
	).Scan(&pl.ID, &pl.Name, &pl.ClickIDParam)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query platform: %w", err)
	}
	return &pl, nil
}

// GetCampaignByKVKey looks up the campaign owning a resolved bundle's KV key,
// used to find the platform a given rule resolution belongs to for C15.
func (p *Postgres) GetCampaignByKVKey(ctx context.Context, kvKey string) (*Campaign, error) {
	var c Campaign
	err := p.DB.QueryRowContext(ctx,
		`SELECT id, user_id, COALESCE(site_id, ''), COALESCE(platform_id, ''), kv_key, name FROM campaigns WHERE kv_key=$1`, kvKey,
	).Scan(&c.ID, &c.UserID, &c.SiteID, &c.PlatformID, &c.KVKey, &c.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query campaign: %w", err)
	}
	return &c, nil
}

// InsertDestination inserts a new destination record.
func (p *Postgres) InsertDestination(ctx context.Context, d Destination) error {
	_, err := p.DB.ExecContext(ctx,
		`INSERT INTO destinations (id, user_id, url, status, updated_at) VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (id) DO UPDATE SET url=$3, status=$4, updated_at=$5`,
		d.ID, d.UserID, d.URL, d.Status, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert destination: %w", err)
	}
	return nil
}
