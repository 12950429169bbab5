package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/domain"
)

type Parser struct {
	parser cron.Parser
}

func NewParser() *Parser {
	return &Parser{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// Parse parses a 5-field cron expression evaluated in timezone.
func (p *Parser) Parse(expression string, timezone string) (Schedule, error) {
	sched, err := p.parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse cron: %w", err)
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	return &schedule{sched: sched, loc: loc}, nil
}

// Schedule builds the schedule for a cadence evaluated in timezone.
func (p *Parser) Schedule(c domain.Cadence, timezone string) (Schedule, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	switch c.Kind {
	case domain.CadenceFixedInterval:
		return &schedule{sched: cron.Every(c.Interval), loc: time.UTC}, nil
	case domain.CadenceDailyAt:
		return p.Parse(fmt.Sprintf("%d %d * * *", c.Minute, c.Hour), timezone)
	case domain.CadenceHourlyAt:
		return p.Parse(fmt.Sprintf("%d * * * *", c.Minute), timezone)
	default:
		return p.Parse(c.Expression, timezone)
	}
}

type Schedule interface {
	Next(after time.Time) time.Time
}

type schedule struct {
	sched cron.Schedule
	loc   *time.Location
}

func (s *schedule) Next(after time.Time) time.Time {
	return s.sched.Next(after.In(s.loc))
}

// ParseCadence parses the textual cadence forms used in configuration:
//
//	every 6h
//	daily 02:00
//	hourly :15
//	cron 0 2 * * *
func ParseCadence(text string) (domain.Cadence, error) {
	kind, rest, _ := strings.Cut(strings.TrimSpace(text), " ")
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return domain.Cadence{}, fmt.Errorf("cadence %q: missing argument", text)
	}

	var c domain.Cadence
	switch domain.CadenceKind(strings.ToLower(kind)) {
	case domain.CadenceFixedInterval:
		d, err := time.ParseDuration(rest)
		if err != nil {
			return domain.Cadence{}, fmt.Errorf("cadence %q: %w", text, err)
		}
		c = domain.Every(d)
	case domain.CadenceDailyAt:
		hh, mm, ok := strings.Cut(rest, ":")
		if !ok {
			return domain.Cadence{}, fmt.Errorf("cadence %q: expected HH:MM", text)
		}
		hour, err := strconv.Atoi(hh)
		if err != nil {
			return domain.Cadence{}, fmt.Errorf("cadence %q: invalid hour: %w", text, err)
		}
		minute, err := strconv.Atoi(mm)
		if err != nil {
			return domain.Cadence{}, fmt.Errorf("cadence %q: invalid minute: %w", text, err)
		}
		c = domain.DailyAt(hour, minute)
	case domain.CadenceHourlyAt:
		minute, err := strconv.Atoi(strings.TrimPrefix(rest, ":"))
		if err != nil {
			return domain.Cadence{}, fmt.Errorf("cadence %q: invalid minute: %w", text, err)
		}
		c = domain.HourlyAt(minute)
	case domain.CadenceCron:
		c = domain.CronExpr(rest)
	default:
		return domain.Cadence{}, fmt.Errorf("cadence %q: unknown kind %q", text, kind)
	}

	if err := c.Validate(); err != nil {
		return domain.Cadence{}, fmt.Errorf("cadence %q: %w", text, err)
	}
	return c, nil
}
