package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type CadenceKind string

const (
	CadenceFixedInterval CadenceKind = "every"
	CadenceDailyAt       CadenceKind = "daily"
	CadenceHourlyAt      CadenceKind = "hourly"
	CadenceCron          CadenceKind = "cron"
)

// Cadence is the recurrence rule of a trigger. Exactly one group of fields is
// meaningful, selected by Kind.
type Cadence struct {
	Kind CadenceKind

	Interval time.Duration // every

	Hour   int // daily
	Minute int // daily, hourly

	Expression string // cron, 5 fields
}

// Every fires at a fixed interval anchored at scheduler start.
func Every(d time.Duration) Cadence {
	return Cadence{Kind: CadenceFixedInterval, Interval: d}
}

// DailyAt fires once a day at hour:minute.
func DailyAt(hour, minute int) Cadence {
	return Cadence{Kind: CadenceDailyAt, Hour: hour, Minute: minute}
}

// HourlyAt fires at the given minute of every hour.
func HourlyAt(minute int) Cadence {
	return Cadence{Kind: CadenceHourlyAt, Minute: minute}
}

// CronExpr fires according to a standard 5-field cron expression.
func CronExpr(expr string) Cadence {
	return Cadence{Kind: CadenceCron, Expression: strings.TrimSpace(expr)}
}

func (c Cadence) Validate() error {
	switch c.Kind {
	case CadenceFixedInterval:
		if c.Interval < time.Second {
			return fmt.Errorf("interval must be at least 1s, got %s", c.Interval)
		}
	case CadenceDailyAt:
		if c.Hour < 0 || c.Hour > 23 {
			return fmt.Errorf("hour must be 0-23, got %d", c.Hour)
		}
		if c.Minute < 0 || c.Minute > 59 {
			return fmt.Errorf("minute must be 0-59, got %d", c.Minute)
		}
	case CadenceHourlyAt:
		if c.Minute < 0 || c.Minute > 59 {
			return fmt.Errorf("minute must be 0-59, got %d", c.Minute)
		}
	case CadenceCron:
		if c.Expression == "" {
			return errors.New("cron expression is empty")
		}
	case "":
		return errors.New("cadence kind is required")
	default:
		return fmt.Errorf("unknown cadence kind %q", c.Kind)
	}
	return nil
}

// String renders the cadence in the textual form accepted by cron.ParseCadence.
func (c Cadence) String() string {
	switch c.Kind {
	case CadenceFixedInterval:
		return "every " + c.Interval.String()
	case CadenceDailyAt:
		return fmt.Sprintf("daily %02d:%02d", c.Hour, c.Minute)
	case CadenceHourlyAt:
		return fmt.Sprintf("hourly :%02d", c.Minute)
	case CadenceCron:
		return "cron " + c.Expression
	default:
		return string(c.Kind)
	}
}
