package agent

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/domain"
	"github.com/Marianooss/OAPCE-BI-MT-sub001/internal/registry"
)

// ErrUnknownAgent is returned by Build for a key no variant is registered under.
var ErrUnknownAgent = errors.New("unknown agent")

// Builder creates fresh agent instances by registry key. The ops API uses
// it to re-initialize an agent without restarting the process.
type Builder struct {
	gateway  Gateway
	settings Settings
	logger   zerolog.Logger
}

func NewBuilder(gw Gateway, settings Settings, logger zerolog.Logger) *Builder {
	return &Builder{gateway: gw, settings: settings, logger: logger}
}

// Keys lists the registry keys this builder can create, in registration order.
func (b *Builder) Keys() []string {
	return []string{
		domain.AgentKeyDataQuality,
		domain.AgentKeyPredictive,
		domain.AgentKeyPrescriptive,
		domain.AgentKeyAnomaly,
	}
}

func (b *Builder) Build(key string) (registry.Agent, error) {
	switch key {
	case domain.AgentKeyDataQuality:
		return NewDataQuality(b.gateway, b.settings.DataQuality, b.logger), nil
	case domain.AgentKeyPredictive:
		return NewPredictive(b.gateway, b.settings.Predictive, b.logger), nil
	case domain.AgentKeyPrescriptive:
		return NewPrescriptive(b.gateway, b.settings.Prescriptive, b.logger), nil
	case domain.AgentKeyAnomaly:
		return NewAnomaly(b.gateway, b.settings.Anomaly, b.logger), nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownAgent, key)
	}
}

// Populate installs one instance of every variant into reg.
func (b *Builder) Populate(reg *registry.Registry) error {
	for _, key := range b.Keys() {
		a, err := b.Build(key)
		if err != nil {
			return err
		}
		if _, err := reg.Put(key, a); err != nil {
			return fmt.Errorf("register %s: %w", key, err)
		}
	}
	return nil
}
