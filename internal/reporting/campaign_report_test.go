package reporting

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestGenerateCampaignReport_AggregatesDailyIntoTotal(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	dailyRows := sqlmock.NewRows([]string{"date", "impressions", "clicks", "conversions", "payout", "ctr", "cvr"}).
		AddRow(time.Now(), int64(100), int64(10), int64(2), 20.0, 10.0, 20.0).
		AddRow(time.Now().Add(-24*time.Hour), int64(50), int64(5), int64(1), 10.0, 10.0, 20.0)
	mock.ExpectQuery("FROM events").WithArgs("c1", 7).WillReturnRows(dailyRows)

	platformRows := sqlmock.NewRows([]string{"platform_id", "impressions", "clicks", "conversions", "payout", "ctr"}).
		AddRow("p1", int64(150), int64(15), int64(3), 30.0, 10.0)
	mock.ExpectQuery("FROM events").WithArgs("c1", 7).WillReturnRows(platformRows)

	summary, err := GenerateCampaignReport(context.Background(), db, "c1", 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.TotalMetrics.Impressions != 150 || summary.TotalMetrics.Clicks != 15 || summary.TotalMetrics.Conversions != 3 {
		t.Fatalf("got totals %+v", summary.TotalMetrics)
	}
	if summary.TotalMetrics.Payout != 30.0 {
		t.Fatalf("got payout %v", summary.TotalMetrics.Payout)
	}
	if len(summary.DailyMetrics) != 2 {
		t.Fatalf("got %d daily rows", len(summary.DailyMetrics))
	}
	if len(summary.PlatformMetrics) != 1 || summary.PlatformMetrics[0].PlatformID != "p1" {
		t.Fatalf("got platform metrics %+v", summary.PlatformMetrics)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGenerateCampaignReport_NoRowsYieldsZeroTotals(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	empty := sqlmock.NewRows([]string{"date", "impressions", "clicks", "conversions", "payout", "ctr", "cvr"})
	mock.ExpectQuery("FROM events").WillReturnRows(empty)
	emptyPlatforms := sqlmock.NewRows([]string{"platform_id", "impressions", "clicks", "conversions", "payout", "ctr"})
	mock.ExpectQuery("FROM events").WillReturnRows(emptyPlatforms)

	summary, err := GenerateCampaignReport(context.Background(), db, "c1", 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.TotalMetrics.Impressions != 0 || summary.TotalMetrics.CTR != 0 {
		t.Fatalf("got %+v", summary.TotalMetrics)
	}
}

func TestGenerateCampaignReport_DailyQueryErrorPropagates(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("FROM events").WillReturnError(context.DeadlineExceeded)

	if _, err := GenerateCampaignReport(context.Background(), db, "c1", 7); err == nil {
		t.Fatalf("expected the daily metrics query error to propagate")
	}
}
