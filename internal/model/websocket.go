package model

// WebSocket message types
const (
	WSMessageTypeProgress = "progress"
	WSMessageTypeComplete = "complete"
	WSMessageTypeError    = "error"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSProgressMessage is pushed on every status or progress change
type WSProgressMessage struct {
	Type     string `json:"type"`
	JobID    string `json:"jobId"`
	Progress int    `json:"progress"`
	Status   Status `json:"status"`
	Message  string `json:"message,omitempty"`
}

// WSCompleteMessage is pushed when a pipeline run or regeneration finishes
type WSCompleteMessage struct {
	Type   string      `json:"type"`
	JobID  string      `json:"jobId"`
	Result interface{} `json:"result"`
}

// WSErrorMessage is pushed when a job parks in a failed state
type WSErrorMessage struct {
	Type  string  `json:"type"`
	JobID string  `json:"jobId"`
	Error WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  *Status `json:"status,omitempty"`
}
