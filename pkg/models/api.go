package models

// RequestList is the body of GET /requests
type RequestList struct {
	Requests []*Request `json:"requests"`
	Count    int        `json:"count"`
}

// EventList is the body of GET /events. Next is the cursor for the
// following poll; it equals the request's after when no events were returned.
type EventList struct {
	Events []Event `json:"events"`
	Next   uint64  `json:"next"`
}

// OwnerInfo is the body of GET /owner
type OwnerInfo struct {
	Owner Identity `json:"owner"`
}

// ErrorResponse is the body of every failed API call
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HostStats is a point-in-time view of the machine the oracle runs on
type HostStats struct {
	CPUCount         int     `json:"cpu_count"`
	CPUPercent       float64 `json:"cpu_percent"`
	Load1            float64 `json:"load_1"`
	MemoryTotalBytes uint64  `json:"memory_total_bytes"`
	MemoryUsedBytes  uint64  `json:"memory_used_bytes"`
	MemoryPercent    float64 `json:"memory_percent"`
}

// Health is the body of GET /health
type Health struct {
	Status    string    `json:"status"`
	Store     string    `json:"store"`
	Owner     Identity  `json:"owner"`
	LastID    Nonce     `json:"last_request_id"`
	Consumers int       `json:"consumers"`
	Host      HostStats `json:"host"`
}
