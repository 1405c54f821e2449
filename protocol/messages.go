package protocol

import "time"

// UsageStatus is the run status carried by a usage log.
type UsageStatus string

const (
	UsageStatusSuccess UsageStatus = "SUCCESS"
	UsageStatusFailure UsageStatus = "FAILURE"
)

// UsageLog is posted to the telemetry endpoint once per run.
type UsageLog struct {
	Status    UsageStatus `json:"status"`
	StartTime time.Time   `json:"start_time"`
	EndTime   time.Time   `json:"end_time"`
	SHA       string      `json:"sha"`
	Branch    string      `json:"branch"`
}

// PlanSummary describes an invocation without running it. Values of
// forwarded variables are never included.
type PlanSummary struct {
	Type        string   `json:"type"` // always "PlanSummary"
	Reference   string   `json:"reference"`
	Setup       []string `json:"setup,omitempty"`
	Argv        []string `json:"argv"`
	CommandLine string   `json:"command_line"`
	Forward     []string `json:"forward"`
	Dir         string   `json:"dir,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}
