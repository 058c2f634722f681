// Campaign Report Tool generates performance reports for dispatcher
// campaigns, pulled from the unified ClickHouse events table.
//
// Usage:
//
//	go run ./tools/campaign_report -campaign-id=abc123 -days=30
//
// The tool outputs a formatted report including:
//   - Overall performance summary (impressions, clicks, conversions, payout)
//   - Daily performance breakdown
//   - Per-platform breakdown
//
// Configuration:
//
//	-campaign-id: Required. The campaign ID to generate a report for
//	-days: Optional. Number of days to include in the report (default: 7)
//	-clickhouse-dsn: Optional. ClickHouse connection string (default: tcp://localhost:9000)
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"

	"github.com/clickrelay/edge-dispatcher/internal/reporting"
)

func main() {
	var (
		campaignID = flag.String("campaign-id", "", "Campaign ID to generate report for")
		days       = flag.Int("days", 7, "Number of days to include in report")
		dsn        = flag.String("clickhouse-dsn", getEnv("CLICKHOUSE_DSN", "tcp://localhost:9000"), "ClickHouse DSN")
	)
	flag.Parse()

	if *campaignID == "" {
		fmt.Fprintf(os.Stderr, "Error: campaign-id is required\n")
		flag.Usage()
		os.Exit(1)
	}

	db, err := sql.Open("clickhouse", *dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to ClickHouse: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close database connection: %v\n", err)
		}
	}()

	if err := db.PingContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error pinging ClickHouse: %v\n", err)
		os.Exit(1)
	}

	summary, err := reporting.GenerateCampaignReport(context.Background(), db, *campaignID, *days)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating report: %v\n", err)
		os.Exit(1)
	}

	printCampaignReport(summary, *days)
}

func printCampaignReport(summary *reporting.CampaignSummary, days int) {
	fmt.Printf("===================================================================================\n")
	fmt.Printf("                              CAMPAIGN PERFORMANCE REPORT                          \n")
	fmt.Printf("===================================================================================\n")
	fmt.Printf("Campaign ID: %s\n", summary.CampaignID)
	fmt.Printf("Report Period: %d days (ending %s)\n", days, time.Now().Format("2006-01-02"))
	fmt.Printf("Generated: %s\n\n", time.Now().Format("2006-01-02 15:04:05"))

	fmt.Printf("OVERALL PERFORMANCE\n")
	fmt.Printf("-----------------------------------------------------------------------------------\n")
	total := summary.TotalMetrics
	fmt.Printf("Total Impressions:  %s\n", formatNumber(total.Impressions))
	fmt.Printf("Total Clicks:       %s\n", formatNumber(total.Clicks))
	fmt.Printf("Total Conversions:  %s\n", formatNumber(total.Conversions))
	fmt.Printf("Total Payout:       $%.2f\n", total.Payout)
	fmt.Printf("Overall CTR:        %.2f%%\n", total.CTR)
	fmt.Printf("Overall CVR:        %.2f%%\n", total.CVR)
	fmt.Printf("\n")

	if len(summary.DailyMetrics) > 0 {
		fmt.Printf("DAILY BREAKDOWN\n")
		fmt.Printf("-----------------------------------------------------------------------------------\n")
		fmt.Printf("Date        | Impressions | Clicks | Conversions |   CTR   |   Payout   \n")
		fmt.Printf("------------|-------------|--------|-------------|---------|------------\n")
		for _, dm := range summary.DailyMetrics {
			fmt.Printf("%-10s | %11s | %6s | %11s | %6.2f%% | $%9.2f\n",
				dm.Date.Format("2006-01-02"),
				formatNumber(dm.Impressions),
				formatNumber(dm.Clicks),
				formatNumber(dm.Conversions),
				dm.CTR,
				dm.Payout,
			)
		}
		fmt.Printf("\n")
	}

	if len(summary.PlatformMetrics) > 0 {
		fmt.Printf("PLATFORM BREAKDOWN\n")
		fmt.Printf("-----------------------------------------------------------------------------------\n")
		fmt.Printf("Platform ID           | Impressions | Clicks | Conversions |   CTR   |   Payout   \n")
		fmt.Printf("-----------------------|-------------|--------|-------------|---------|------------\n")
		for _, p := range summary.PlatformMetrics {
			fmt.Printf("%-22s | %11s | %6s | %11s | %6.2f%% | $%9.2f\n",
				p.PlatformID,
				formatNumber(p.Impressions),
				formatNumber(p.Clicks),
				formatNumber(p.Conversions),
				p.CTR,
				p.Payout,
			)
		}
		fmt.Printf("\n")
	}

	fmt.Printf("INSIGHTS\n")
	fmt.Printf("-----------------------------------------------------------------------------------\n")
	if total.CTR == 0 {
		fmt.Printf("No clicks recorded - check rule matching and delivery mode configuration\n")
	} else if total.CTR < 1.0 {
		fmt.Printf("Low CTR (%.2f%%) - consider reviewing matching rules or destination quality\n", total.CTR)
	} else {
		fmt.Printf("CTR %.2f%% within normal range\n", total.CTR)
	}
	if total.Clicks > 0 && total.Conversions == 0 {
		fmt.Printf("No conversions recorded - verify postback integration for this campaign\n")
	}

	fmt.Printf("===================================================================================\n")
}

func formatNumber(n int64) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}
	result := ""
	for i, digit := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result += ","
		}
		result += string(digit)
	}
	return result
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
