package orchestrator

// Event is one entry in the ordered stream a generation run produces. Data
// is one of the payload structs below, chosen by Name.
type Event struct {
	Name string
	Data any
}

// StartData opens a generation stream.
type StartData struct {
	TaskID string `json:"task_id"`
	Total  int    `json:"total"`
}

// ProgressData precedes each variation attempt.
type ProgressData struct {
	Index   int `json:"index"`
	Current int `json:"current"`
	Total   int `json:"total"`
}

// CompleteData reports one persisted variation.
type CompleteData struct {
	Index int    `json:"index"`
	Image string `json:"image"`
}

// ErrorData reports one variation that exhausted its retry budget. Failures
// are always retryable through the explicit retry operation.
type ErrorData struct {
	Index     int    `json:"index"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// FinishData closes a generation stream.
type FinishData struct {
	Success   bool     `json:"success"`
	Images    []string `json:"images"`
	Total     int      `json:"total"`
	Completed int      `json:"completed"`
	Failed    int      `json:"failed"`
}

// RetryStartData opens a single-variation retry stream.
type RetryStartData struct {
	TaskID string `json:"task_id"`
	Index  int    `json:"index"`
}

// RetryFinishData closes a single-variation retry stream.
type RetryFinishData struct {
	TaskID  string `json:"task_id"`
	Index   int    `json:"index"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
