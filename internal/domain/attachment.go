package domain

// Attachment is a validated file reference bound to a message.
// The blob itself lives in object storage under URL.
type Attachment struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Size int64  `json:"size"`
	Type string `json:"type"`
	URL  string `json:"url"`
}
