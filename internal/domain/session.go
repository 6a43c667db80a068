package domain

// EditSession tracks a bounded linear edit history over one task artifact.
// History entries are storage keys of snapshot files; entry 0 is always the
// untouched original and is never evicted. HistoryIndex is the cursor: the
// snapshot it addresses is byte-identical to the current working image.
type EditSession struct {
	ID           string   `json:"id"`
	TaskID       string   `json:"task_id"`
	ImageIndex   int      `json:"image_index"`
	OriginalKey  string   `json:"original_image"`
	CurrentKey   string   `json:"current_image"`
	History      []string `json:"history"`
	HistoryIndex int      `json:"history_index"`
	CreatedAt    string   `json:"created_at"`
	UpdatedAt    string   `json:"updated_at"`
}

// CanUndo reports whether the cursor can move backwards.
func (s *EditSession) CanUndo() bool {
	return s.HistoryIndex > 0
}

// CanRedo reports whether the cursor can move forwards.
func (s *EditSession) CanRedo() bool {
	return s.HistoryIndex < len(s.History)-1
}
