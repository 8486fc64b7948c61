package model

// WorkerState tracks a worker runtime through its lifecycle.
type WorkerState string

const (
	WorkerInitializing WorkerState = "initializing"
	WorkerReady        WorkerState = "ready"
	WorkerBusy         WorkerState = "busy"
	WorkerUnhealthy    WorkerState = "unhealthy"
	WorkerTerminated   WorkerState = "terminated"
)

// WorkerHealth is the typed health record a worker returns for
// SYNC_METRICS requests and heartbeats.
type WorkerHealth struct {
	WorkerID        int         `json:"workerId"`
	State           WorkerState `json:"state"`
	AssignedSymbols int         `json:"assignedSymbols"`
	TradesProcessed uint64      `json:"tradesProcessed"`
	EventsPublished uint64      `json:"eventsPublished"`
	AvgProcessingMs float64     `json:"avgProcessingMs"`
	MemoryBytes     uint64      `json:"memoryBytes"`
	CPUPercent      float64     `json:"cpuPercent"`
	ErrorCount      uint64      `json:"errorCount"`
	LastError       string      `json:"lastError,omitempty"`
	LastHeartbeat   int64       `json:"lastHeartbeat"` // epoch ms
	MailboxDepth    int         `json:"mailboxDepth"`
	DirtySymbols    int         `json:"dirtySymbols"`
}

// PoolHealth is the pool-level snapshot aggregated from all workers.
type PoolHealth struct {
	Workers          []WorkerHealth `json:"workers"`
	WorkerCount      int            `json:"workerCount"`
	UnhealthyWorkers int            `json:"unhealthyWorkers"`
	PendingWorkers   int            `json:"pendingWorkers"`
	TotalSymbols     int            `json:"totalSymbols"`
}
