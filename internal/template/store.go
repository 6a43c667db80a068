package template

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"photostudio/internal/domain"
	"photostudio/internal/imageutil"
	"photostudio/internal/storage"
)

const indexFilename = "index.json"

// Store is a plain keyed library of saved model photos: one id maps to one
// image plus its thumbnail, with names tracked in a JSON index file.
type Store struct {
	files *storage.FileStore

	mu sync.Mutex
}

// NewStore constructs a Store over the given file store.
func NewStore(files *storage.FileStore) (*Store, error) {
	if files == nil {
		return nil, fmt.Errorf("template: file store is required")
	}
	return &Store{files: files}, nil
}

// List returns all saved templates, newest first.
func (s *Store) List(ctx context.Context) ([]domain.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readIndex(ctx)
}

// Add stores a new template image under a fresh id.
func (s *Store) Add(ctx context.Context, name string, image []byte) (*domain.Template, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: template image is required", domain.ErrInvalidInput)
	}
	if imageutil.DetectFormat(image) == imageutil.FormatUnknown {
		return nil, fmt.Errorf("%w: template image format not recognized", domain.ErrInvalidInput)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Untitled"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tpl := domain.Template{
		ID:        "tpl_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
		Name:      name,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if _, err := s.files.Write(ctx, path.Join(tpl.ID, "image.png"), image); err != nil {
		return nil, err
	}
	if thumb, err := imageutil.Thumbnail(image, 256, 50); err == nil {
		_, _ = s.files.Write(ctx, path.Join(tpl.ID, "thumb.jpg"), thumb)
	}

	templates, err := s.readIndex(ctx)
	if err != nil {
		return nil, err
	}
	templates = append(templates, tpl)
	if err := s.writeIndex(ctx, templates); err != nil {
		return nil, err
	}
	return &tpl, nil
}

// Get returns the index entry for a template id.
func (s *Store) Get(ctx context.Context, id string) (*domain.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	templates, err := s.readIndex(ctx)
	if err != nil {
		return nil, err
	}
	for i := range templates {
		if templates[i].ID == id {
			return &templates[i], nil
		}
	}
	return nil, fmt.Errorf("%w: template %s", domain.ErrNotFound, id)
}

// Rename updates a template's display name.
func (s *Store) Rename(ctx context.Context, id, name string) (*domain.Template, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: template name is required", domain.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	templates, err := s.readIndex(ctx)
	if err != nil {
		return nil, err
	}
	for i := range templates {
		if templates[i].ID == id {
			templates[i].Name = name
			if err := s.writeIndex(ctx, templates); err != nil {
				return nil, err
			}
			return &templates[i], nil
		}
	}
	return nil, fmt.Errorf("%w: template %s", domain.ErrNotFound, id)
}

// Image returns the stored image bytes for a template id.
func (s *Store) Image(ctx context.Context, id string) ([]byte, error) {
	data, err := s.files.Read(ctx, path.Join(id, "image.png"))
	if err != nil {
		return nil, fmt.Errorf("%w: template %s", domain.ErrNotFound, id)
	}
	return data, nil
}

// Thumbnail returns the stored thumbnail for a template id, falling back to
// the full image when no thumbnail was produced.
func (s *Store) Thumbnail(ctx context.Context, id string) ([]byte, error) {
	if data, err := s.files.Read(ctx, path.Join(id, "thumb.jpg")); err == nil {
		return data, nil
	}
	return s.Image(ctx, id)
}

// Remove deletes a template and its files.
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	templates, err := s.readIndex(ctx)
	if err != nil {
		return err
	}
	kept := templates[:0]
	found := false
	for _, tpl := range templates {
		if tpl.ID == id {
			found = true
			continue
		}
		kept = append(kept, tpl)
	}
	if !found {
		return fmt.Errorf("%w: template %s", domain.ErrNotFound, id)
	}
	if err := s.files.RemoveAll(ctx, id); err != nil {
		return err
	}
	return s.writeIndex(ctx, kept)
}

func (s *Store) readIndex(ctx context.Context) ([]domain.Template, error) {
	raw, err := s.files.Read(ctx, indexFilename)
	if err != nil {
		return nil, nil
	}
	var templates []domain.Template
	if err := json.Unmarshal(raw, &templates); err != nil {
		return nil, fmt.Errorf("template: parse index: %w", err)
	}
	sort.Slice(templates, func(i, j int) bool {
		return templates[i].CreatedAt > templates[j].CreatedAt
	})
	return templates, nil
}

func (s *Store) writeIndex(ctx context.Context, templates []domain.Template) error {
	raw, err := json.Marshal(templates)
	if err != nil {
		return fmt.Errorf("template: encode index: %w", err)
	}
	_, err = s.files.Write(ctx, indexFilename, raw)
	return err
}
