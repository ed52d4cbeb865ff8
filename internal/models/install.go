package models

import "time"

// Install outcomes recorded in the ledger.
const (
	InstallCompleted = "completed"
	InstallFailed    = "failed"
)

// InstallRecord is one row of a plugin's install history.
type InstallRecord struct {
	ID        int64     `json:"id"`
	PluginID  string    `json:"plugin_id"`
	ProfileID string    `json:"profile_id"`
	Version   string    `json:"version"`
	SourceURL string    `json:"source_url,omitempty"`
	Dir       string    `json:"dir,omitempty"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
