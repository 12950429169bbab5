package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/agent"
	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/analytics"
	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/config"
	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/domain"
	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/monitor"
	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/registry"
)

const healthProbeTimeout = 5 * time.Second

var (
	green = color.New(color.FgGreen).SprintFunc()
	red   = color.New(color.FgRed).SprintFunc()
	bold  = color.New(color.Bold).SprintFunc()
)

type healthRow struct {
	component string
	detail    string
	ok        bool
}

var errUnhealthy = errors.New("one or more components unhealthy")

func runHealth(ctx context.Context, cfg config.Config, logger zerolog.Logger, w io.Writer) error {
	settings, err := cfg.AgentSettings()
	if err != nil {
		return configError(err)
	}

	var rows []healthRow

	db, gateway, err := openGateway(ctx, cfg, logger)
	if err != nil {
		rows = append(rows, healthRow{component: "database", detail: err.Error()})
		printHealth(w, rows)
		return errUnhealthy
	}
	defer db.Close()
	rows = append(rows, healthRow{component: "database", detail: cfg.DatabaseDriver, ok: true})

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		pingCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
		err := analytics.NewRedisSink(client, domain.AnalyticsConfig{}).Ping(pingCtx)
		cancel()
		row := healthRow{component: "redis", detail: cfg.RedisAddr, ok: err == nil}
		if err != nil {
			row.detail = err.Error()
		}
		rows = append(rows, row)
	}

	reg := registry.New()
	defer reg.Close()
	if err := agent.NewBuilder(gateway, settings, logger).Populate(reg); err != nil {
		return err
	}

	results := monitor.New(monitor.Config{CheckTimeout: healthProbeTimeout}, reg).
		WithLogger(logger).
		Check(ctx)
	for _, key := range reg.Keys() {
		rows = append(rows, healthRow{component: "agent " + key, ok: results[key]})
	}

	if !printHealth(w, rows) {
		return errUnhealthy
	}
	return nil
}

// printHealth renders rows as a table and reports whether all are healthy.
func printHealth(w io.Writer, rows []healthRow) bool {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\t%s\t%s\n", bold("COMPONENT"), bold("STATUS"), bold("DETAIL"))

	healthy := true
	for _, r := range rows {
		status := green("healthy")
		if !r.ok {
			status = red("unhealthy")
			healthy = false
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.component, status, r.detail)
	}
	tw.Flush()
	return healthy
}
