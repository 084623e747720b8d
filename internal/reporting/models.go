package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated call metrics.
// Tenant isolation: TenantID is required.

type CallsSummaryRequest struct {
	TenantID string    `json:"tenant_id"`
	Range    TimeRange `json:"range"`
	// ReceiverID narrows the summary to one agent.
	ReceiverID string `json:"receiver_id,omitempty"`
}

type CallsSummary struct {
	TenantID   string    `json:"tenant_id"`
	ReceiverID string    `json:"receiver_id,omitempty"`
	Range      TimeRange `json:"range"`

	TotalCalls        int `json:"total_calls"`
	ConnectedCalls    int `json:"connected_calls"`
	NoAnswerCalls     int `json:"no_answer_calls"`
	CancelledCalls    int `json:"cancelled_calls"`
	DisconnectedCalls int `json:"disconnected_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`
	LongestDurationSeconds int `json:"longest_duration_seconds"`

	// AnswerRate is connected / total.
	AnswerRate float64 `json:"answer_rate"`
}
