// Package agent implements the four dashboard agents. Each agent performs a
// simple aggregation or threshold check through the query gateway and writes
// its results back through the same gateway.
package agent

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/store"
)

// Gateway is the query gateway surface agents depend on.
type Gateway interface {
	Query(ctx context.Context, query string, args ...any) (store.Table, error)
	Update(ctx context.Context, query string, args ...any) (int64, error)
	Ping(ctx context.Context) error
}

// Status is the last-run summary shown on the dashboard.
type Status struct {
	LastRun   time.Time
	LastError string
	Runs      int
}

// base carries the state shared by every agent variant.
type base struct {
	name    string
	gateway Gateway
	clock   func() time.Time
	logger  zerolog.Logger

	mu      sync.Mutex
	lastRun time.Time
	lastErr error
	runs    int
}

func newBase(name string, gw Gateway, logger zerolog.Logger) base {
	return base{
		name:    name,
		gateway: gw,
		clock:   time.Now,
		logger:  logger.With().Str("agent", name).Logger(),
	}
}

func (b *base) Name() string {
	return b.name
}

func (b *base) now() time.Time {
	return b.clock().UTC()
}

// record stores the outcome of a run and returns err unchanged.
func (b *base) record(startedAt time.Time, err error) error {
	b.mu.Lock()
	b.lastRun = startedAt
	b.lastErr = err
	b.runs++
	b.mu.Unlock()

	if err != nil {
		return fmt.Errorf("%s: %w", b.name, err)
	}
	return nil
}

// HealthCheck reports true when the gateway answers and the last run did not fail.
func (b *base) HealthCheck(ctx context.Context) bool {
	if err := b.gateway.Ping(ctx); err != nil {
		b.logger.Warn().Err(err).Msg("agent: health check ping failed")
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr == nil
}

func (b *base) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := Status{LastRun: b.lastRun, Runs: b.runs}
	if b.lastErr != nil {
		s.LastError = b.lastErr.Error()
	}
	return s
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// quoteIdent validates and quotes a table or column name. Identifiers cannot
// be bound as parameters, so only plain names are accepted.
func quoteIdent(name string) (string, error) {
	if !identPattern.MatchString(name) {
		return "", fmt.Errorf("invalid identifier %q", name)
	}
	return `"` + name + `"`, nil
}
