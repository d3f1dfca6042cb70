package model

// HealthStatus represents the health state of an index node
type HealthStatus struct {
	IndexUID  string
	Status    NodeStatus
	Timestamp int64
	Metrics   HealthMetrics
}

// NodeStatus defines the operational status of a node
type NodeStatus string

const (
	NodeStatusHealthy   NodeStatus = "healthy"
	NodeStatusDegraded  NodeStatus = "degraded"
	NodeStatusUnhealthy NodeStatus = "unhealthy"
)

// HealthMetrics carries the figures the last health check observed
type HealthMetrics struct {
	DiskUsage         float64
	PendingUpdates    int
	NumberOfDocuments uint64
}
