// Package reporting queries the unified events table for campaign
// performance summaries: daily impression/click/conversion counts, payout,
// and a per-platform breakdown. Adapted from the teacher's ClickHouse
// aggregate-query style (one query per breakdown, countIf/sum/round over a
// fixed lookback window) onto this spec's unified events schema. Queries use
// FROM events FINAL since the events table is a ReplacingMergeTree: without
// FINAL a replayed write that hasn't been merged away yet would be double
// counted.
package reporting

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CampaignMetrics is one row of aggregated performance data, either a daily
// slice or the period total. Payout is the sum of conversion payouts in the
// bucket; CTR and CVR are percentages.
type CampaignMetrics struct {
	CampaignID   string    `json:"campaign_id"`
	Date         time.Time `json:"date"`
	Impressions  int64     `json:"impressions"`
	Clicks       int64     `json:"clicks"`
	Conversions  int64     `json:"conversions"`
	Payout       float64   `json:"payout"`
	CTR          float64   `json:"ctr"`
	CVR          float64   `json:"cvr"`
}

// PlatformMetrics breaks a campaign's performance down by traffic platform.
type PlatformMetrics struct {
	PlatformID  string  `json:"platform_id"`
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	Conversions int64   `json:"conversions"`
	Payout      float64 `json:"payout"`
	CTR         float64 `json:"ctr"`
}

// CampaignSummary is the full report: the period total, a daily breakdown,
// and a per-platform breakdown.
type CampaignSummary struct {
	CampaignID       string            `json:"campaign_id"`
	TotalMetrics     CampaignMetrics   `json:"total_metrics"`
	DailyMetrics     []CampaignMetrics `json:"daily_metrics"`
	PlatformMetrics  []PlatformMetrics `json:"platform_metrics"`
}

// GenerateCampaignReport assembles a CampaignSummary for campaignID covering
// the last days days.
func GenerateCampaignReport(ctx context.Context, db *sql.DB, campaignID string, days int) (*CampaignSummary, error) {
	summary := &CampaignSummary{CampaignID: campaignID}

	daily, err := getDailyMetrics(ctx, db, campaignID, days)
	if err != nil {
		return nil, fmt.Errorf("get daily metrics: %w", err)
	}
	summary.DailyMetrics = daily

	total := CampaignMetrics{CampaignID: campaignID, Date: time.Now()}
	for _, dm := range daily {
		total.Impressions += dm.Impressions
		total.Clicks += dm.Clicks
		total.Conversions += dm.Conversions
		total.Payout += dm.Payout
	}
	if total.Impressions > 0 {
		total.CTR = float64(total.Clicks) / float64(total.Impressions) * 100
	}
	if total.Clicks > 0 {
		total.CVR = float64(total.Conversions) / float64(total.Clicks) * 100
	}
	summary.TotalMetrics = total

	platforms, err := getPlatformMetrics(ctx, db, campaignID, days)
	if err != nil {
		return nil, fmt.Errorf("get platform metrics: %w", err)
	}
	summary.PlatformMetrics = platforms

	return summary, nil
}

func getDailyMetrics(ctx context.Context, db *sql.DB, campaignID string, days int) ([]CampaignMetrics, error) {
	query := `
		SELECT
			toDate(timestamp) as date,
			countIf(is_impression = 1) as impressions,
			countIf(is_click = 1) as clicks,
			countIf(is_conversion = 1) as conversions,
			sum(payout) as payout,
			round(if(impressions > 0, clicks / impressions * 100, 0), 2) as ctr,
			round(if(clicks > 0, conversions / clicks * 100, 0), 2) as cvr
		FROM events FINAL
		WHERE campaign_id = ?
			AND timestamp >= now() - INTERVAL ? DAY
		GROUP BY date
		ORDER BY date DESC`

	rows, err := db.QueryContext(ctx, query, campaignID, days)
	if err != nil {
		return nil, fmt.Errorf("query daily metrics: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var metrics []CampaignMetrics
	for rows.Next() {
		var m CampaignMetrics
		m.CampaignID = campaignID
		if err := rows.Scan(&m.Date, &m.Impressions, &m.Clicks, &m.Conversions, &m.Payout, &m.CTR, &m.CVR); err != nil {
			return nil, fmt.Errorf("scan daily metrics: %w", err)
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

func getPlatformMetrics(ctx context.Context, db *sql.DB, campaignID string, days int) ([]PlatformMetrics, error) {
	query := `
		SELECT
			platform_id,
			countIf(is_impression = 1) as impressions,
			countIf(is_click = 1) as clicks,
			countIf(is_conversion = 1) as conversions,
			sum(payout) as payout,
			round(if(impressions > 0, clicks / impressions * 100, 0), 2) as ctr
		FROM events FINAL
		WHERE campaign_id = ?
			AND platform_id != ''
			AND timestamp >= now() - INTERVAL ? DAY
		GROUP BY platform_id
		ORDER BY impressions DESC`

	rows, err := db.QueryContext(ctx, query, campaignID, days)
	if err != nil {
		return nil, fmt.Errorf("query platform metrics: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var platforms []PlatformMetrics
	for rows.Next() {
		var p PlatformMetrics
		if err := rows.Scan(&p.PlatformID, &p.Impressions, &p.Clicks, &p.Conversions, &p.Payout, &p.CTR); err != nil {
			return nil, fmt.Errorf("scan platform metrics: %w", err)
		}
		platforms = append(platforms, p)
	}
	return platforms, rows.Err()
}
