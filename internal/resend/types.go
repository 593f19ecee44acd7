package resend

import "time"

// Config holds the provider connection settings.
type Config struct {
	APIKey  string
	BaseURL string
	// Timeout bounds a single HTTP attempt. Zero means 30s.
	Timeout time.Duration
}

// CreateBroadcastParams is the create-phase request body.
type CreateBroadcastParams struct {
	Name      string `json:"name"`
	SegmentID string `json:"segment_id"`
	From      string `json:"from"`
	ReplyTo   string `json:"reply_to,omitempty"`
	Subject   string `json:"subject"`
	HTML      string `json:"html"`
}

// Broadcast is the provider's representation of a created broadcast.
type Broadcast struct {
	ID string `json:"id"`
}

// Segment describes a destination audience segment.
type Segment struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Contact is one recipient in a segment.
type Contact struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type contactListResponse struct {
	Data []Contact `json:"data"`
}

// apiError is the provider's error envelope.
type apiError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}
