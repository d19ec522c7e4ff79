package models

// PriceChange pairs the canonical price with the freshly observed one.
type PriceChange struct {
	PropertyID    string   `json:"property_id"`
	OldPrice      float64  `json:"old_price"`
	NewPrice      float64  `json:"new_price"`
	PercentChange float64  `json:"percent_change"`
}

// RemovalResult records the outcome of one HEAD verification.
type RemovalResult struct {
	PropertyID string `json:"property_id"`
	SourceURL  string `json:"source_url"`
	Confirmed  bool   `json:"confirmed"`
	StatusCode int    `json:"status_code"`
	Reason     string `json:"reason"`
}
