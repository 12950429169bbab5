package agent

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings configures the agent variants. It is read from the YAML file
// named by AGENTS_CONFIG.
type Settings struct {
	DataQuality  DataQualitySettings  `yaml:"data_quality"`
	Predictive   PredictiveSettings   `yaml:"predictive"`
	Prescriptive PrescriptiveSettings `yaml:"prescriptive"`
	Anomaly      AnomalySettings      `yaml:"anomaly"`
	Triggers     []TriggerSettings    `yaml:"triggers"`
}

type ColumnCheck struct {
	Table  string `yaml:"table"`
	Column string `yaml:"column"`
}

type DataQualitySettings struct {
	Checks []ColumnCheck `yaml:"checks"`
}

type PredictiveSettings struct {
	Metrics []string      `yaml:"metrics"`
	Window  time.Duration `yaml:"window"`
}

type Target struct {
	Metric string  `yaml:"metric"`
	Max    float64 `yaml:"max"`
}

type PrescriptiveSettings struct {
	Targets []Target `yaml:"targets"`
}

type Threshold struct {
	Metric string  `yaml:"metric"`
	Min    float64 `yaml:"min"`
	Max    float64 `yaml:"max"`
}

type AnomalySettings struct {
	Thresholds []Threshold   `yaml:"thresholds"`
	Lookback   time.Duration `yaml:"lookback"`
}

// TriggerSettings declares an extra trigger on top of the defaults.
type TriggerSettings struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Cadence string `yaml:"cadence"`
	Agent   string `yaml:"agent"`
}

// DefaultSettings returns settings used when no file is configured.
func DefaultSettings() Settings {
	return Settings{
		DataQuality: DataQualitySettings{
			Checks: []ColumnCheck{{Table: "metrics", Column: "value"}},
		},
		Predictive: PredictiveSettings{Window: 7 * 24 * time.Hour},
		Anomaly:    AnomalySettings{Lookback: time.Hour},
	}
}

// ParseSettings decodes YAML settings on top of DefaultSettings. Keys
// that do not map to a field are rejected.
func ParseSettings(data []byte) (Settings, error) {
	s := DefaultSettings()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return Settings{}, fmt.Errorf("parse agent settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s Settings) Validate() error {
	var errs []error
	for i, c := range s.DataQuality.Checks {
		if _, err := quoteIdent(c.Table); err != nil {
			errs = append(errs, fmt.Errorf("data_quality.checks[%d].table: %w", i, err))
		}
		if _, err := quoteIdent(c.Column); err != nil {
			errs = append(errs, fmt.Errorf("data_quality.checks[%d].column: %w", i, err))
		}
	}
	if s.Predictive.Window <= 0 {
		errs = append(errs, errors.New("predictive.window must be positive"))
	}
	for i, t := range s.Anomaly.Thresholds {
		if t.Metric == "" {
			errs = append(errs, fmt.Errorf("anomaly.thresholds[%d].metric is required", i))
		}
		if t.Min >= t.Max {
			errs = append(errs, fmt.Errorf("anomaly.thresholds[%d]: min must be below max", i))
		}
	}
	if s.Anomaly.Lookback <= 0 {
		errs = append(errs, errors.New("anomaly.lookback must be positive"))
	}
	for i, t := range s.Prescriptive.Targets {
		if t.Metric == "" {
			errs = append(errs, fmt.Errorf("prescriptive.targets[%d].metric is required", i))
		}
	}
	for i, t := range s.Triggers {
		if t.ID == "" || t.Cadence == "" || t.Agent == "" {
			errs = append(errs, fmt.Errorf("triggers[%d]: id, cadence and agent are required", i))
		}
	}
	return errors.Join(errs...)
}
