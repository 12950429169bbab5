// Command alert-receiver is a development endpoint for agentd failure alerts.
// It verifies the HMAC signature of each delivery and keeps the most recent
// payloads for inspection.
package main

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/dispatcher"
)

const maxStored = 50

type received struct {
	ReceivedAt string                    `json:"received_at"`
	AttemptID  string                    `json:"attempt_id"`
	Verified   bool                      `json:"verified"`
	Payload    dispatcher.WebhookPayload `json:"payload"`
}

type stats struct {
	Count    int64      `json:"count"`
	Rejected int64      `json:"rejected"`
	Last     []received `json:"last"`
	Since    string     `json:"since"`
}

// receiver records alert deliveries. An empty secret accepts unsigned alerts.
type receiver struct {
	secret string
	logger zerolog.Logger
	clock  func() time.Time

	mu       sync.Mutex
	count    int64
	rejected int64
	last     []received
	since    time.Time
}

func newReceiver(secret string, logger zerolog.Logger) *receiver {
	r := &receiver{secret: secret, logger: logger, clock: time.Now}
	r.since = r.clock().UTC()
	return r
}

func (rc *receiver) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /hook", rc.hook)
	mux.HandleFunc("GET /stats", rc.stats)
	mux.HandleFunc("POST /reset", rc.reset)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok\n")
	})
	return mux
}

func (rc *receiver) hook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	verified := rc.secret != "" && dispatcher.VerifySignature(rc.secret, body, r.Header.Get("X-OpsAgents-Signature"))
	if rc.secret != "" && !verified {
		rc.mu.Lock()
		rc.rejected++
		rc.mu.Unlock()
		rc.logger.Warn().Str("attempt_id", r.Header.Get("X-OpsAgents-Attempt-ID")).Msg("alert-receiver: bad signature")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var payload dispatcher.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	rec := received{
		ReceivedAt: rc.clock().UTC().Format(time.RFC3339Nano),
		AttemptID:  r.Header.Get("X-OpsAgents-Attempt-ID"),
		Verified:   verified,
		Payload:    payload,
	}

	rc.mu.Lock()
	rc.count++
	rc.last = append(rc.last, rec)
	if len(rc.last) > maxStored {
		rc.last = rc.last[len(rc.last)-maxStored:]
	}
	current := rc.count
	rc.mu.Unlock()

	rc.logger.Info().
		Int64("n", current).
		Str("trigger_id", payload.TriggerID).
		Str("agent", payload.Agent).
		Str("outcome", payload.Outcome).
		Str("detail", payload.Detail).
		Bool("verified", verified).
		Msg("alert-receiver: alert received")

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int64{"received": current})
}

func (rc *receiver) stats(w http.ResponseWriter, _ *http.Request) {
	rc.mu.Lock()
	s := stats{
		Count:    rc.count,
		Rejected: rc.rejected,
		Last:     append([]received(nil), rc.last...),
		Since:    rc.since.Format(time.RFC3339),
	}
	rc.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s)
}

func (rc *receiver) reset(w http.ResponseWriter, _ *http.Request) {
	rc.mu.Lock()
	rc.count = 0
	rc.rejected = 0
	rc.last = nil
	rc.since = rc.clock().UTC()
	rc.mu.Unlock()

	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "reset\n")
}

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	addr := ":8081"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}

	rc := newReceiver(os.Getenv("ALERT_WEBHOOK_SECRET"), logger)
	logger.Info().Str("addr", addr).Bool("verify", rc.secret != "").Msg("alert-receiver: listening")
	if err := http.ListenAndServe(addr, rc.routes()); err != nil {
		logger.Fatal().Err(err).Msg("alert-receiver: server error")
	}
}
