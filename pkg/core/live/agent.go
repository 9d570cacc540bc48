package live

import (
	_ "embed"
)

//go:embed instructions.md
var agentInstructions string

// Agent describes the assistant persona a realtime session is opened with.
type Agent struct {
	Name         string  `json:"name" yaml:"name"`
	Instructions string  `json:"instructions" yaml:"instructions"`
	Voice        string  `json:"voice" yaml:"voice"`
	Temperature  float64 `json:"temperature" yaml:"temperature"`
}

// DefaultAgent returns the TranceGuide hypnotherapist agent.
func DefaultAgent() *Agent {
	return &Agent{
		Name:         "TranceGuide",
		Instructions: agentInstructions,
		Voice:        DefaultVoice,
		Temperature:  DefaultTemperature,
	}
}
