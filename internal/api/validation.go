package api

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
)

var agentKeyPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

func validateAgentKey(key string) error {
	if key == "" {
		return fmt.Errorf("agent key is required")
	}
	if !agentKeyPattern.MatchString(key) {
		return fmt.Errorf("invalid agent key %q", key)
	}
	return nil
}

// parseRunsQuery extracts the optional agent filter and limit from /runs.
// Returns DefaultLimit if limit is not specified or zero.
func parseRunsQuery(r *http.Request) (agentKey string, limit int, err error) {
	q := r.URL.Query()

	agentKey = q.Get("agent")
	if agentKey != "" {
		if err := validateAgentKey(agentKey); err != nil {
			return "", 0, err
		}
	}

	limit = DefaultLimit
	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return "", 0, fmt.Errorf("invalid limit %q", limitStr)
		}
		if limit < 0 {
			return "", 0, fmt.Errorf("limit must not be negative")
		}
		if limit > MaxLimit {
			return "", 0, &limitExceededError{max: MaxLimit}
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	return agentKey, limit, nil
}

type limitExceededError struct {
	max int
}

func (e *limitExceededError) Error() string {
	return "limit exceeds maximum of " + strconv.Itoa(e.max)
}
