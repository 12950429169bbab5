package domain

// Trigger binds a cadence to an agent registry key. The key is resolved
// when the trigger fires, never when it is registered.
type Trigger struct {
	ID        string
	Name      string
	Cadence   Cadence
	TargetKey string
}

// Registry keys of the four agent variants.
const (
	AgentKeyDataQuality  = "dq_agent"
	AgentKeyPredictive   = "pred_agent"
	AgentKeyPrescriptive = "presc_agent"
	AgentKeyAnomaly      = "ad_agent"
)

// ManualTriggerID marks reports produced by an operator-initiated run.
const ManualTriggerID = "manual"
