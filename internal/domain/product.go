package domain

import "time"

// Product is a listing clipped from an e-commerce page.
// Price is kept as the scraped display string; normalization happens in
// the extension before submission, not here.
type Product struct {
	ID        string
	OwnerID   string
	Name      string
	Price     string
	ImageURLs []string
	URL       string
	Site      string
	CreatedAt time.Time
	UpdatedAt time.Time
}
