package main

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/agent"
	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/api"
	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/config"
	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/cron"
	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/dispatcher"
	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/domain"
	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/registry"
	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/scheduler"
	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/store"
)

// dispatchReporter hands reports straight to the dispatcher. A one-shot run
// has no bus to buffer them.
type dispatchReporter struct {
	dispatcher *dispatcher.Dispatcher
}

func (r dispatchReporter) Emit(ctx context.Context, report domain.Report) error {
	return r.dispatcher.Dispatch(ctx, report)
}

func runOnce(ctx context.Context, cfg config.Config, logger zerolog.Logger, key string, w io.Writer) error {
	settings, err := cfg.AgentSettings()
	if err != nil {
		return configError(err)
	}

	db, gateway, err := openGateway(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	a, err := agent.NewBuilder(gateway, settings, logger).Build(key)
	if err != nil {
		return err
	}

	reg := registry.New()
	defer reg.Close()
	if _, err := reg.Put(key, a); err != nil {
		return err
	}

	disp := dispatcher.New(
		dispatcher.NewLogSink(logger),
		store.NewRunLog(db, cfg.DBOpTimeout),
	).WithLogger(logger)

	sched := scheduler.New(
		scheduler.Config{
			TickInterval:   cfg.TickInterval,
			Timezone:       cfg.SchedulerTimezone,
			SlowRunWarning: cfg.SlowRunWarning,
		},
		cronParserAdapter{parser: cron.NewParser()},
		reg,
		dispatchReporter{dispatcher: disp},
	).WithLogger(logger)

	report := sched.RunNow(ctx, key)
	if err := printJSON(w, api.NewReportResponse(report)); err != nil {
		return err
	}
	if report.Outcome.IsFailure() {
		return fmt.Errorf("agent %s: %s", key, report.Detail)
	}
	return nil
}
