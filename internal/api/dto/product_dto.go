package dto

import "time"

// AddProductRequest payload for clipping a listing.
type AddProductRequest struct {
	Name      string   `json:"name"`
	Price     string   `json:"price"`
	ImageURLs []string `json:"image_urls"`
	URL       string   `json:"url"`
	Site      string   `json:"site"`
}

// ProductResponse wire form of a clipped listing.
type ProductResponse struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	Price     string    `json:"price"`
	ImageURLs []string  `json:"image_urls"`
	URL       string    `json:"url"`
	Site      string    `json:"site"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
