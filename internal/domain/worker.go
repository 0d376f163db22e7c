package domain

import (
	"encoding/json"
	"time"
)

// WorkerStatus is the registry state of an execution agent.
type WorkerStatus string

// The coordinator itself only writes active (on heartbeat) and offline
// (on reclamation). Idle and error are reserved for worker-reported state
// and are surfaced read-only by the registry queries.
const (
	WorkerActive  WorkerStatus = "active"
	WorkerIdle    WorkerStatus = "idle"
	WorkerOffline WorkerStatus = "offline"
	WorkerError   WorkerStatus = "error"
)

// Worker is a registered external execution agent. The coordinator never
// talks to workers directly; rows are upserted from heartbeats and claim
// requests and aged out by the reclaimer.
type Worker struct {
	ID            string
	Hostname      string
	IPAddress     string
	Capabilities  []string
	Status        WorkerStatus
	LastHeartbeat *time.Time
	Metadata      json.RawMessage
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Heartbeat is a liveness signal from a worker. Capabilities and Metadata
// are optional; when present they replace the stored values.
type Heartbeat struct {
	WorkerID     string
	Hostname     string
	IPAddress    string
	Capabilities []string
	Metadata     json.RawMessage
}
