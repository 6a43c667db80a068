package editsession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"photostudio/internal/domain"
	"photostudio/internal/infra"
	"photostudio/internal/storage"
)

const (
	// DefaultMaxHistorySteps bounds the undo chain. The original snapshot
	// occupies step 0 and is never evicted.
	DefaultMaxHistorySteps = 10

	metaFilename     = "meta.json"
	originalFilename = "original.png"
	currentFilename  = "current.png"
)

// Applier transforms the current working image according to an instruction.
// The optional mask confines the edit to the white region; appliers without
// masked-edit support may reject a non-nil mask.
type Applier interface {
	Apply(ctx context.Context, image []byte, instruction string, mask []byte) ([]byte, error)
}

// ApplierFunc adapts a function to the Applier interface.
type ApplierFunc func(ctx context.Context, image []byte, instruction string, mask []byte) ([]byte, error)

// Apply implements Applier.
func (f ApplierFunc) Apply(ctx context.Context, image []byte, instruction string, mask []byte) ([]byte, error) {
	return f(ctx, image, instruction, mask)
}

// Passthrough returns the input unchanged. Useful in tests and as a stand-in
// when no edit backend is configured.
func Passthrough() Applier {
	return ApplierFunc(func(ctx context.Context, image []byte, instruction string, mask []byte) ([]byte, error) {
		return append([]byte(nil), image...), nil
	})
}

// SessionInfo is the caller-facing view of a session.
type SessionInfo struct {
	SessionID    string `json:"session_id"`
	TaskID       string `json:"task_id"`
	ImageIndex   int    `json:"image_index"`
	HistoryLen   int    `json:"history_length"`
	HistoryIndex int    `json:"history_index"`
	CanUndo      bool   `json:"can_undo"`
	CanRedo      bool   `json:"can_redo"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

// Manager owns edit sessions: a bounded linear undo/redo history of image
// snapshots over one task artifact. Every mutation lands on disk before it
// is acknowledged; the in-memory map is a cache rebuilt from the meta.json
// sidecar on demand.
type Manager struct {
	sessions  *storage.FileStore
	tasks     *storage.FileStore
	applier   Applier
	maxSteps  int
	logger    infra.Logger
	timestamp func() time.Time

	mu    sync.Mutex
	cache map[string]*domain.EditSession
}

// Options configures a Manager.
type Options struct {
	SessionStore *storage.FileStore
	TaskStore    *storage.FileStore
	Applier      Applier
	MaxSteps     int
	Logger       infra.Logger
	// Now is injectable for tests.
	Now func() time.Time
}

// NewManager constructs a Manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.SessionStore == nil || opts.TaskStore == nil {
		return nil, errors.New("editsession: session and task stores are required")
	}
	applier := opts.Applier
	if applier == nil {
		applier = Passthrough()
	}
	maxSteps := opts.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxHistorySteps
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		sessions:  opts.SessionStore,
		tasks:     opts.TaskStore,
		applier:   applier,
		maxSteps:  maxSteps,
		logger:    opts.Logger,
		timestamp: now,
		cache:     map[string]*domain.EditSession{},
	}, nil
}

// Create opens a session over one task artifact. The artifact bytes are
// snapshotted as both the original and the current working image.
func (m *Manager) Create(ctx context.Context, taskID, artifact string, imageIndex int) (*SessionInfo, error) {
	data, err := m.tasks.Read(ctx, path.Join(taskID, artifact))
	if err != nil {
		return nil, fmt.Errorf("%w: artifact %s/%s", domain.ErrNotFound, taskID, artifact)
	}

	now := m.timestamp().UTC().Format(time.RFC3339)
	session := &domain.EditSession{
		ID:           newSessionID(),
		TaskID:       taskID,
		ImageIndex:   imageIndex,
		OriginalKey:  originalFilename,
		CurrentKey:   currentFilename,
		History:      []string{originalFilename},
		HistoryIndex: 0,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if _, err := m.sessions.Write(ctx, path.Join(session.ID, originalFilename), data); err != nil {
		return nil, err
	}
	if _, err := m.sessions.Write(ctx, path.Join(session.ID, currentFilename), data); err != nil {
		return nil, err
	}
	if err := m.persistMeta(ctx, session); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.cache[session.ID] = session
	m.mu.Unlock()

	m.logger.Info().Str("session_id", session.ID).Str("task_id", taskID).Int("image_index", imageIndex).Msg("edit session created")
	return m.info(session), nil
}

// Apply runs the configured applier over the current image and records the
// result as a new history step. The optional mask confines the edit to its
// white region. Applying while the cursor sits mid-history discards the redo
// branch first; exceeding the history bound evicts the oldest edit step,
// never the original.
func (m *Manager) Apply(ctx context.Context, sessionID, instruction string, mask []byte) (*SessionInfo, error) {
	session, err := m.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	current, err := m.sessions.Read(ctx, path.Join(session.ID, session.History[session.HistoryIndex]))
	if err != nil {
		return nil, err
	}
	edited, err := m.applier.Apply(ctx, current, instruction, mask)
	if err != nil {
		return nil, fmt.Errorf("editsession: apply edit: %w", err)
	}

	// Truncate the redo branch before appending.
	if removed := session.History[session.HistoryIndex+1:]; len(removed) > 0 {
		for _, name := range removed {
			if err := m.sessions.Remove(ctx, path.Join(session.ID, name)); err != nil {
				return nil, err
			}
		}
		session.History = session.History[:session.HistoryIndex+1]
	}

	stepName := nextStepName(session.History)
	if _, err := m.sessions.Write(ctx, path.Join(session.ID, stepName), edited); err != nil {
		return nil, err
	}
	session.History = append(session.History, stepName)

	if len(session.History) > m.maxSteps {
		evicted := session.History[1]
		if err := m.sessions.Remove(ctx, path.Join(session.ID, evicted)); err != nil {
			return nil, err
		}
		session.History = append(session.History[:1], session.History[2:]...)
	}
	session.HistoryIndex = len(session.History) - 1

	if err := m.syncCurrent(ctx, session, edited); err != nil {
		return nil, err
	}
	return m.info(session), nil
}

// Undo moves the cursor one step back and restores that snapshot as the
// current image.
func (m *Manager) Undo(ctx context.Context, sessionID string) (*SessionInfo, error) {
	session, err := m.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.CanUndo() {
		return nil, domain.ErrNothingToUndo
	}
	session.HistoryIndex--
	if err := m.restoreCursor(ctx, session); err != nil {
		return nil, err
	}
	return m.info(session), nil
}

// Redo moves the cursor one step forward and restores that snapshot as the
// current image.
func (m *Manager) Redo(ctx context.Context, sessionID string) (*SessionInfo, error) {
	session, err := m.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.CanRedo() {
		return nil, domain.ErrNothingToRedo
	}
	session.HistoryIndex++
	if err := m.restoreCursor(ctx, session); err != nil {
		return nil, err
	}
	return m.info(session), nil
}

// Save writes the current image back into the task's artifact directory as a
// new uniquely named artifact, then discards the session.
func (m *Manager) Save(ctx context.Context, sessionID string) (string, error) {
	session, err := m.load(ctx, sessionID)
	if err != nil {
		return "", err
	}
	current, err := m.CurrentImage(ctx, sessionID)
	if err != nil {
		return "", err
	}

	filename := fmt.Sprintf("%d_edited_%d_%s.png", session.ImageIndex, m.timestamp().Unix(), shortID())
	if _, err := m.tasks.Write(ctx, path.Join(session.TaskID, filename), current); err != nil {
		return "", err
	}
	if err := m.discard(ctx, session.ID); err != nil {
		return "", err
	}
	m.logger.Info().Str("session_id", session.ID).Str("artifact", filename).Msg("edit session saved")
	return filename, nil
}

// Cancel discards the session and all its snapshots.
func (m *Manager) Cancel(ctx context.Context, sessionID string) error {
	if _, err := m.load(ctx, sessionID); err != nil {
		return err
	}
	return m.discard(ctx, sessionID)
}

// Info reports the session's cursor state.
func (m *Manager) Info(ctx context.Context, sessionID string) (*SessionInfo, error) {
	session, err := m.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return m.info(session), nil
}

// CurrentImage returns the snapshot the cursor addresses.
func (m *Manager) CurrentImage(ctx context.Context, sessionID string) ([]byte, error) {
	session, err := m.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return m.sessions.Read(ctx, path.Join(session.ID, session.History[session.HistoryIndex]))
}

// OriginalImage returns the untouched step-0 snapshot.
func (m *Manager) OriginalImage(ctx context.Context, sessionID string) ([]byte, error) {
	session, err := m.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return m.sessions.Read(ctx, path.Join(session.ID, session.OriginalKey))
}

// load resolves a session from the cache, falling back to the meta.json
// sidecar so sessions survive a process restart.
func (m *Manager) load(ctx context.Context, sessionID string) (*domain.EditSession, error) {
	m.mu.Lock()
	session, ok := m.cache[sessionID]
	m.mu.Unlock()
	if ok {
		return session, nil
	}

	raw, err := m.sessions.Read(ctx, path.Join(sessionID, metaFilename))
	if err != nil {
		return nil, fmt.Errorf("%w: session %s", domain.ErrNotFound, sessionID)
	}
	session = &domain.EditSession{}
	if err := json.Unmarshal(raw, session); err != nil {
		return nil, fmt.Errorf("editsession: parse sidecar: %w", err)
	}
	if len(session.History) == 0 || session.HistoryIndex < 0 || session.HistoryIndex >= len(session.History) {
		return nil, fmt.Errorf("editsession: corrupt sidecar for session %s", sessionID)
	}

	m.mu.Lock()
	m.cache[sessionID] = session
	m.mu.Unlock()
	return session, nil
}

func (m *Manager) restoreCursor(ctx context.Context, session *domain.EditSession) error {
	data, err := m.sessions.Read(ctx, path.Join(session.ID, session.History[session.HistoryIndex]))
	if err != nil {
		return err
	}
	return m.syncCurrent(ctx, session, data)
}

// syncCurrent writes the working copy and the sidecar after any mutation.
func (m *Manager) syncCurrent(ctx context.Context, session *domain.EditSession, data []byte) error {
	if _, err := m.sessions.Write(ctx, path.Join(session.ID, currentFilename), data); err != nil {
		return err
	}
	session.UpdatedAt = m.timestamp().UTC().Format(time.RFC3339)
	return m.persistMeta(ctx, session)
}

func (m *Manager) persistMeta(ctx context.Context, session *domain.EditSession) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("editsession: encode sidecar: %w", err)
	}
	_, err = m.sessions.Write(ctx, path.Join(session.ID, metaFilename), raw)
	return err
}

func (m *Manager) discard(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	delete(m.cache, sessionID)
	m.mu.Unlock()
	return m.sessions.RemoveAll(ctx, sessionID)
}

func (m *Manager) info(session *domain.EditSession) *SessionInfo {
	return &SessionInfo{
		SessionID:    session.ID,
		TaskID:       session.TaskID,
		ImageIndex:   session.ImageIndex,
		HistoryLen:   len(session.History),
		HistoryIndex: session.HistoryIndex,
		CanUndo:      session.CanUndo(),
		CanRedo:      session.CanRedo(),
		CreatedAt:    session.CreatedAt,
		UpdatedAt:    session.UpdatedAt,
	}
}

// nextStepName picks a step filename that collides with nothing in history.
// Eviction can free low numbers while higher ones remain, so it scans past
// the largest suffix in use.
func nextStepName(history []string) string {
	highest := 0
	for _, name := range history {
		trimmed := strings.TrimSuffix(strings.TrimPrefix(name, "edit_"), ".png")
		if n, err := strconv.Atoi(trimmed); err == nil && n > highest {
			highest = n
		}
	}
	return "edit_" + strconv.Itoa(highest+1) + ".png"
}

func newSessionID() string {
	return "edit_" + shortID()
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
