package domain

// Template is a saved model photo that can seed new generation requests.
// Plain keyed storage: one id maps to one image plus its thumbnail.
type Template struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	CreatedAt string            `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}
