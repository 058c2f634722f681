// Package events implements the Event Emitter (C12): an async, idempotent
// write path to a single unified ClickHouse events table. Grounded directly
// on internal/analytics/clickhouse.go's sql.Open("clickhouse", dsn) +
// MergeTree table setup, generalized from the teacher's impression/click/
// cost rows to this spec's unified Event record covering impression, click
// and conversion rows under one schema.
package events

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"go.uber.org/zap"

	"github.com/clickrelay/edge-dispatcher/internal/observability"
)

// ErrUnavailable is returned when the event store is not configured.
var ErrUnavailable = fmt.Errorf("event store unavailable")

// Event mirrors one row of the unified events table (§3 Data Model).
type Event struct {
	EventID         string
	Timestamp       time.Time
	SessionID       string
	CampaignID      string
	IsImpression    bool
	IsClick         bool
	IsConversion    bool
	Host            string
	Path            string
	Country         string
	Region          string
	City            string
	Device          string
	Browser         string
	OS              string
	IP              string
	Org             string
	Referrer        string
	LandingPage     string
	LandingPageMode string
	QueryParams     string
	DestinationURL  string
	DestinationID   string
	MatchedFlags    string
	PlatformID      string
	PlatformClickID string
	ClickID         string
	Payout          float64
	ConversionType  string
	PostbackData    string
	EnrichmentData  string
}

// Store wraps a ClickHouse connection and emits Events asynchronously.
type Store struct {
	DB      *sql.DB
	Metrics observability.MetricsRegistry
}

const createTableSQL = `CREATE TABLE IF NOT EXISTS events (
    event_id          String,
    timestamp         DateTime,
    session_id        String,
    campaign_id       String,
    is_impression     UInt8,
    is_click          UInt8,
    is_conversion     UInt8,
    host              String,
    path              String,
    country           String,
    region            String,
    city              String,
    device            String,
    browser           String,
    os                String,
    ip                String,
    org               String,
    referrer          String,
    landing_page      String,
    landing_page_mode String,
    query_params      String,
    destination_url   String,
    destination_id    String,
    matched_flags     String,
    platform_id       String,
    platform_click_id String,
    click_id          String,
    payout            Float64,
    conversion_type   String,
    postback_data     String,
    enrichment_data   String
) ENGINE=ReplacingMergeTree() ORDER BY (campaign_id, timestamp, event_id)`

// ReplacingMergeTree only collapses duplicate-key rows during background
// merges, not at insert time, so a row just written by Emit may coexist with
// an earlier duplicate until the next merge. Callers that read the table
// directly (rather than through GetByEventID, which already picks the
// newest row via ORDER BY timestamp DESC LIMIT 1) must query with FINAL or
// otherwise dedupe on event_id app-side.

// Init connects to ClickHouse and ensures the events table exists.
func Init(dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration, metrics observability.MetricsRegistry) (*Store, error) {
	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), createTableSQL); err != nil {
		return nil, fmt.Errorf("clickhouse create table: %w", err)
	}

	zap.L().Info("connected to clickhouse event store")
	return &Store{DB: db, Metrics: metrics}, nil
}

// Close terminates the ClickHouse connection.
func (s *Store) Close() {
	if s != nil && s.DB != nil {
		if err := s.DB.Close(); err != nil {
			zap.L().Error("clickhouse close", zap.Error(err))
		}
	}
}

// Emit inserts ev. Per §5's orphan guard, rows with an empty CampaignID are
// dropped without error — there is nothing downstream to attribute them to.
// The events table is a ReplacingMergeTree keyed on (campaign_id, timestamp,
// event_id), so a replayed write with the same EventID (and Timestamp) is
// eventually collapsed to a single row by background merges; it is not
// rejected or blocked at insert time the way ON CONFLICT DO NOTHING would be
// (§5 invariant (e)).
func (s *Store) Emit(ctx context.Context, ev Event) error {
	if s == nil || s.DB == nil {
		return ErrUnavailable
	}
	if ev.CampaignID == "" {
		return nil
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	const stmt = `INSERT INTO events (
		event_id, timestamp, session_id, campaign_id, is_impression, is_click, is_conversion,
		host, path, country, region, city, device, browser, os, ip, org, referrer,
		landing_page, landing_page_mode, query_params, destination_url, destination_id, matched_flags,
		platform_id, platform_click_id, click_id, payout, conversion_type, postback_data, enrichment_data
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.DB.ExecContext(ctx, stmt,
		ev.EventID, ev.Timestamp, ev.SessionID, ev.CampaignID,
		boolToUint8(ev.IsImpression), boolToUint8(ev.IsClick), boolToUint8(ev.IsConversion),
		ev.Host, ev.Path, ev.Country, ev.Region, ev.City, ev.Device, ev.Browser, ev.OS,
		ev.IP, ev.Org, ev.Referrer, ev.LandingPage, ev.LandingPageMode, ev.QueryParams,
		ev.DestinationURL, ev.DestinationID, ev.MatchedFlags,
		ev.PlatformID, ev.PlatformClickID, ev.ClickID, ev.Payout, ev.ConversionType, ev.PostbackData, ev.EnrichmentData,
	)
	if err != nil {
		if s.Metrics != nil {
			s.Metrics.IncrementEvent(eventType(ev), "error")
		}
		return fmt.Errorf("insert event: %w", err)
	}
	if s.Metrics != nil {
		s.Metrics.IncrementEvent(eventType(ev), "ok")
	}
	return nil
}

// EmitAsync schedules Emit on a detached goroutine so event recording never
// blocks the dispatch response (§5 "Ordering"). Errors are logged, not
// returned, since there is no caller left to receive them.
func (s *Store) EmitAsync(ev Event) {
	if s == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Emit(ctx, ev); err != nil {
			zap.L().Error("event emit failed", zap.Error(err), zap.String("event_id", ev.EventID))
		}
	}()
}

// UpdateEnrichment applies a delayed client-side enrichment update (the
// /t/enrich endpoint's screen/dpr/gpu/tz/model/osVersion/arch payload),
// touching only the enrichment_data column of an already-inserted row
// identified by eventId. enrichmentJSON is stored verbatim.
func (s *Store) UpdateEnrichment(ctx context.Context, eventID string, enrichmentJSON string) error {
	if s == nil || s.DB == nil {
		return ErrUnavailable
	}
	const stmt = `ALTER TABLE events UPDATE enrichment_data=? WHERE event_id=?`
	if _, err := s.DB.ExecContext(ctx, stmt, enrichmentJSON, eventID); err != nil {
		return fmt.Errorf("update enrichment: %w", err)
	}
	return nil
}

// GetByEventID looks up a previously emitted row by its EventID. The
// Click-Out Handler (C11) uses this to recover the originating impression's
// landing page/mode/query before minting a click; the Postback Handler
// (C13) uses it to find the click a conversion should link to. Returns
// (Event{}, false) if no row matches or the store is unavailable — callers
// treat both as "nothing to recover".
func (s *Store) GetByEventID(ctx context.Context, eventID string) (Event, bool) {
	if s == nil || s.DB == nil || eventID == "" {
		return Event{}, false
	}
	const stmt = `SELECT
		event_id, timestamp, session_id, campaign_id, is_impression, is_click, is_conversion,
		host, path, country, region, city, device, browser, os, ip, org, referrer,
		landing_page, landing_page_mode, query_params, destination_url, destination_id, matched_flags,
		platform_id, platform_click_id, click_id, payout, conversion_type, postback_data, enrichment_data
	FROM events WHERE event_id = ? ORDER BY timestamp DESC LIMIT 1`

	var ev Event
	var isImpression, isClick, isConversion uint8
	row := s.DB.QueryRowContext(ctx, stmt, eventID)
	err := row.Scan(
		&ev.EventID, &ev.Timestamp, &ev.SessionID, &ev.CampaignID,
		&isImpression, &isClick, &isConversion,
		&ev.Host, &ev.Path, &ev.Country, &ev.Region, &ev.City, &ev.Device, &ev.Browser, &ev.OS,
		&ev.IP, &ev.Org, &ev.Referrer, &ev.LandingPage, &ev.LandingPageMode, &ev.QueryParams,
		&ev.DestinationURL, &ev.DestinationID, &ev.MatchedFlags,
		&ev.PlatformID, &ev.PlatformClickID, &ev.ClickID, &ev.Payout, &ev.ConversionType, &ev.PostbackData, &ev.EnrichmentData,
	)
	if err != nil {
		return Event{}, false
	}
	ev.IsImpression = isImpression != 0
	ev.IsClick = isClick != 0
	ev.IsConversion = isConversion != 0
	return ev, true
}

func boolToUint8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

func eventType(ev Event) string {
	switch {
	case ev.IsConversion:
		return "conversion"
	case ev.IsClick && ev.IsImpression:
		return "redirect"
	case ev.IsClick:
		return "click"
	case ev.IsImpression:
		return "impression"
	default:
		return "unknown"
	}
}
