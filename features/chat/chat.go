package chat

import (
	"time"
)

// DataSource tags where an answer came from.
type DataSource string

const (
	SourceGeneral    DataSource = "general"
	SourceAppData    DataSource = "app_data"
	SourceHistorical DataSource = "historical_records"
	SourceMixed      DataSource = "mixed"
)

// Turn is one logged exchange of a user's conversation.
type Turn struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Query      string     `json:"query"`
	Response   string     `json:"response"`
	DataSource DataSource `json:"data_source"`
	Intent     string     `json:"intent"`
	LatencyMs  int64      `json:"latency_ms"`
	CreatedAt  time.Time  `json:"created_at"`
}

type Request struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Query    string `json:"query"`
}

type Response struct {
	Text       string     `json:"response"`
	DataSource DataSource `json:"dataSource"`
	Intent     string     `json:"intent"`
	LatencyMs  int64      `json:"latencyMs"`
}
