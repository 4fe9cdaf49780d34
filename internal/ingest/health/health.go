// Package health provides system health monitoring and status reporting.
package health

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// ContractHealth contains health metrics for one tracked contract.
type ContractHealth struct {
	Contract string       `json:"contract"`
	Status   SystemStatus `json:"status"`
	Cursor   uint64       `json:"cursor"`
	Head     uint64       `json:"head"`
	BlockLag uint64       `json:"block_lag"`
}

// Report contains the full system health report.
type Report struct {
	SystemStatus SystemStatus              `json:"system_status"`
	Database     SystemStatus              `json:"database"`
	DeadJobs     int                       `json:"dead_jobs"`
	Contracts    map[string]ContractHealth `json:"contracts"`
}
