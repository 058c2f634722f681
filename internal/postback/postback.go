// Package postback implements the Postback Handler (C13): ingesting a
// conversion notification from a platform, linking it to a prior click by
// event ID. Grounded on the teacher's thin-HTTP-handler-over-collaborator
// style (see tools/cmd/server's route handlers), adapted to this spec's
// single-lookup-then-emit postback flow.
package postback

import (
	"context"
	"net/url"
	"strconv"

	"github.com/clickrelay/edge-dispatcher/internal/events"
	"github.com/clickrelay/edge-dispatcher/internal/fingerprint"
	"github.com/clickrelay/edge-dispatcher/internal/observability"
)

// Handler ingests postbacks and emits linked conversion rows.
type Handler struct {
	Events  *events.Store
	Metrics observability.MetricsRegistry
}

func New(store *events.Store, metrics observability.MetricsRegistry) *Handler {
	return &Handler{Events: store, Metrics: metrics}
}

// Result tells the caller how to respond.
type Result struct {
	Found bool
}

// Handle implements §4.13: look up the click by its eventId (click_id);
// return {Found: false} if absent (caller responds 404). Otherwise mint a
// conversion eventId, capture every query parameter into postbackData, and
// emit a conversion row linked via clickId.
func (h *Handler) Handle(ctx context.Context, query url.Values) Result {
	clickID := query.Get("click_id")
	if clickID == "" {
		return Result{Found: false}
	}

	click, found := h.Events.GetByEventID(ctx, clickID)
	if !found {
		if h.Metrics != nil {
			h.Metrics.IncrementPostback("not_found")
		}
		return Result{Found: false}
	}

	payout, _ := strconv.ParseFloat(query.Get("payout"), 64)

	h.Events.EmitAsync(events.Event{
		EventID:         fingerprint.NewEventID(),
		SessionID:       click.SessionID,
		CampaignID:      click.CampaignID,
		IsConversion:    true,
		Host:            click.Host,
		Path:            click.Path,
		ClickID:         clickID,
		Payout:          payout,
		ConversionType:  query.Get("conversion_type"),
		PostbackData:    query.Encode(),
		PlatformID:      click.PlatformID,
		PlatformClickID: click.PlatformClickID,
	})
	if h.Metrics != nil {
		h.Metrics.IncrementPostback("ok")
	}

	return Result{Found: true}
}
