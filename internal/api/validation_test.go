package api

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestValidateAgentKey(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
	}{
		{"dq_agent", false},
		{"ad_agent", false},
		{"a1", false},
		{"", true},
		{"Bad", true},
		{"1agent", true},
		{"has-dash", true},
		{"has space", true},
		{strings.Repeat("a", 65), true},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			err := validateAgentKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateAgentKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
		})
	}
}

func TestParseRunsQuery(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantAgent string
		wantLimit int
		wantErr   string
	}{
		{"defaults", "", "", DefaultLimit, ""},
		{"agent filter", "agent=dq_agent", "dq_agent", DefaultLimit, ""},
		{"explicit limit", "limit=10", "", 10, ""},
		{"zero limit uses default", "limit=0", "", DefaultLimit, ""},
		{"max limit", "limit=500", "", MaxLimit, ""},
		{"over max", "limit=501", "", 0, "limit exceeds maximum of 500"},
		{"negative", "limit=-1", "", 0, "must not be negative"},
		{"non-numeric", "limit=ten", "", 0, "invalid limit"},
		{"invalid agent", "agent=Robert%27--", "", 0, "invalid agent key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/runs?"+tt.query, nil)
			agentKey, limit, err := parseRunsQuery(r)

			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if agentKey != tt.wantAgent || limit != tt.wantLimit {
				t.Errorf("got (%q, %d), want (%q, %d)", agentKey, limit, tt.wantAgent, tt.wantLimit)
			}
		})
	}
}
