package domain

// WorkflowStats are the queue counters carried on every resource snapshot
type WorkflowStats struct {
	ActiveExecutions int     `json:"activeExecutions"`
	QueuedExecutions int     `json:"queuedExecutions"`
	TotalExecutions  int     `json:"totalExecutions"`
	AvgResponseTime  float64 `json:"avgResponseTime"` // milliseconds
	ErrorRate        float64 `json:"errorRate"`       // failed / finished, 0..1
}
