// Command query_events looks up a single event row by its event ID and
// prints it as JSON, for debugging impression/click/conversion linkage by
// hand against a live ClickHouse instance.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/clickrelay/edge-dispatcher/internal/config"
	"github.com/clickrelay/edge-dispatcher/internal/events"
	"github.com/clickrelay/edge-dispatcher/internal/observability"
)

func main() {
	var id string
	var dsn string
	flag.StringVar(&id, "id", "", "event ID")
	flag.StringVar(&dsn, "dsn", "", "ClickHouse DSN")
	flag.Parse()

	if id == "" {
		fmt.Fprintln(os.Stderr, "id required")
		os.Exit(1)
	}
	if dsn == "" {
		cfg := config.Load()
		dsn = cfg.ClickHouseDSN
	}

	store, err := events.Init(dsn, 10, 2, 5*time.Minute, 1*time.Minute, observability.NewNoOpRegistry())
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect clickhouse: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ev, found := store.GetByEventID(ctx, id)
	if !found {
		fmt.Fprintf(os.Stderr, "no event found for id %q\n", id)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(ev); err != nil {
		fmt.Fprintf(os.Stderr, "encode event: %v\n", err)
		os.Exit(1)
	}
}
