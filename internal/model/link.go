package model

import "time"

// Link maps a short code to its destination URL
type Link struct {
	Code        string     `json:"code" db:"code"`
	URL         string     `json:"url" db:"url"`
	Clicks      int64      `json:"clicks" db:"clicks"`
	LastClicked *time.Time `json:"last_clicked" db:"last_clicked"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}
