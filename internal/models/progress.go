package models

// ProgressUpdate is broadcast to websocket clients while a plugin is being
// fetched, installed or removed.
type ProgressUpdate struct {
	JobID    string  `json:"jobId"`
	Message  string  `json:"message"`
	Progress float64 `json:"progress"`
	ItemID   string  `json:"item_id"`
	Status   string  `json:"status"` // e.g. "downloading", "installing", "completed", "failed"
	Done     bool    `json:"done"`
}

// Notification is a user-facing success or error message.
type Notification struct {
	Level   string `json:"level"` // "success" or "error"
	Title   string `json:"title"`
	Message string `json:"message"`
}
