package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"photostudio/internal/domain"
	"photostudio/internal/generator"
	"photostudio/internal/imageutil"
	"photostudio/internal/infra"
	"photostudio/internal/retry"
	"photostudio/internal/storage"
)

const (
	// MinVariations and MaxVariations bound the per-task variation count.
	MinVariations = 1
	MaxVariations = 4

	inputMaxKB     = 500
	thumbnailMaxKB = 50
	thumbnailEdge  = 256
)

// ErrConfigLost marks a task whose artifacts survive on disk but whose
// request configuration did not survive the process restart. Such tasks can
// be viewed and downloaded but not retried.
var ErrConfigLost = errors.New("request configuration lost on restart")

// GenerateInput is a validated generation request.
type GenerateInput struct {
	ModelImage    []byte
	ProductImages [][]byte
	Config        domain.TaskConfig
	Provider      string
	Locale        string
}

// StatusView is the caller-facing snapshot of a task. Reconstructed marks a
// degraded view synthesized from on-disk artifacts after a restart.
type StatusView struct {
	TaskID        string   `json:"task_id"`
	Status        string   `json:"status"`
	Provider      string   `json:"provider,omitempty"`
	Images        []string `json:"images"`
	Error         string   `json:"error,omitempty"`
	CreatedAt     string   `json:"created_at,omitempty"`
	Reconstructed bool     `json:"reconstructed,omitempty"`
}

type taskRecord struct {
	task      *domain.Task
	artifacts map[int]string
}

// Orchestrator drives multi-variation generation tasks: per-variation retry
// against a pluggable backend, ordered event streaming, and artifact
// persistence into a per-task directory. The in-memory index is a cache; the
// artifact directory is what survives a restart.
type Orchestrator struct {
	generators      map[string]generator.Generator
	defaultProvider string
	policy          retry.Policy
	store           *storage.FileStore
	imageURLPrefix  string
	logger          infra.Logger

	mu    sync.Mutex
	tasks map[string]*taskRecord
}

// Options configures an Orchestrator.
type Options struct {
	Generators      map[string]generator.Generator
	DefaultProvider string
	Policy          retry.Policy
	Store           *storage.FileStore
	ImageURLPrefix  string
	Logger          infra.Logger
}

// New constructs an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if len(opts.Generators) == 0 {
		return nil, errors.New("orchestrator: at least one generator is required")
	}
	if opts.Store == nil {
		return nil, errors.New("orchestrator: store is required")
	}
	if _, ok := opts.Generators[opts.DefaultProvider]; !ok {
		return nil, fmt.Errorf("orchestrator: default provider %q is not registered", opts.DefaultProvider)
	}
	policy := opts.Policy
	if policy.MaxAttempts == 0 {
		policy = retry.NewPolicy()
	}
	return &Orchestrator{
		generators:      opts.Generators,
		defaultProvider: opts.DefaultProvider,
		policy:          policy,
		store:           opts.Store,
		imageURLPrefix:  strings.TrimRight(opts.ImageURLPrefix, "/"),
		logger:          opts.Logger,
	}, nil
}

// ClampVariations bounds a requested variation count to the supported range.
func ClampVariations(n int) int {
	if n < MinVariations {
		return MinVariations
	}
	if n > MaxVariations {
		return MaxVariations
	}
	return n
}

// Generate validates the request, creates a task, and returns the lazy event
// stream that performs the work. Draining the stream is synchronous with the
// network calls and backoff sleeps it wraps; nothing happens until the caller
// pulls, and an abandoned pull leaves the task partially attempted.
func (o *Orchestrator) Generate(ctx context.Context, in GenerateInput) (func(yield func(Event) bool), error) {
	if len(in.ModelImage) == 0 {
		return nil, fmt.Errorf("%w: model image is required", domain.ErrInvalidInput)
	}
	nonEmpty := 0
	for _, p := range in.ProductImages {
		if len(p) > 0 {
			nonEmpty++
		}
	}
	if nonEmpty == 0 {
		return nil, fmt.Errorf("%w: at least one product image is required", domain.ErrInvalidInput)
	}

	providerName := in.Provider
	if providerName == "" {
		providerName = o.defaultProvider
	}
	gen, ok := o.generators[providerName]
	if !ok {
		return nil, fmt.Errorf("%w: unknown provider %q", domain.ErrInvalidInput, providerName)
	}

	modelImage, err := imageutil.Compress(in.ModelImage, inputMaxKB)
	if err != nil {
		return nil, fmt.Errorf("%w: model image: %v", domain.ErrInvalidInput, err)
	}
	productImages := make([][]byte, 0, nonEmpty)
	for _, p := range in.ProductImages {
		if len(p) == 0 {
			continue
		}
		compressed, err := imageutil.Compress(p, inputMaxKB)
		if err != nil {
			return nil, fmt.Errorf("%w: product image: %v", domain.ErrInvalidInput, err)
		}
		productImages = append(productImages, compressed)
	}

	cfg := in.Config
	cfg.Variations = ClampVariations(cfg.Variations)

	task := &domain.Task{
		ID:            newTaskID(),
		Status:        domain.TaskStatusPending,
		Provider:      providerName,
		ModelImage:    modelImage,
		ProductImages: productImages,
		Config:        cfg,
		CreatedAt:     time.Now().UTC(),
	}
	rec := &taskRecord{task: task, artifacts: map[int]string{}}
	o.mu.Lock()
	if o.tasks == nil {
		o.tasks = map[string]*taskRecord{}
	}
	o.tasks[task.ID] = rec
	o.mu.Unlock()

	o.logger.Info().
		Str("task_id", task.ID).
		Str("provider", providerName).
		Int("variations", cfg.Variations).
		Msg("generation task created")

	return func(yield func(Event) bool) {
		o.runGeneration(ctx, rec, gen, in.Locale, yield)
	}, nil
}

func (o *Orchestrator) runGeneration(ctx context.Context, rec *taskRecord, gen generator.Generator, locale string, yield func(Event) bool) {
	task := rec.task
	total := task.Config.Variations
	if !yield(Event{Name: "start", Data: StartData{TaskID: task.ID, Total: total}}) {
		return
	}
	o.setStatus(rec, domain.TaskStatusGenerating, "")

	prompt := generator.BuildPrompt(task.Config)
	failures := 0
	var lastErr string
	for i := 0; i < total; i++ {
		if !yield(Event{Name: "progress", Data: ProgressData{Index: i, Current: i + 1, Total: total}}) {
			return
		}

		ref, errMsg := o.attemptVariation(ctx, rec, gen, prompt, i)
		if errMsg == "" {
			if !yield(Event{Name: "complete", Data: CompleteData{Index: i, Image: ref}}) {
				return
			}
			continue
		}
		failures++
		lastErr = errMsg
		o.logger.Warn().Str("task_id", task.ID).Int("index", i).Str("error", errMsg).Msg("variation failed")
		if !yield(Event{Name: "error", Data: ErrorData{Index: i, Message: localizedFailure(locale, errMsg), Retryable: true}}) {
			return
		}
	}

	completed := total - failures
	switch {
	case failures == 0:
		o.setStatus(rec, domain.TaskStatusCompleted, "")
	case failures == total:
		o.setStatus(rec, domain.TaskStatusFailed, lastErr)
	default:
		o.setStatus(rec, domain.TaskStatusPartial, lastErr)
	}

	yield(Event{Name: "finish", Data: FinishData{
		Success:   failures == 0,
		Images:    o.imageRefs(rec),
		Total:     total,
		Completed: completed,
		Failed:    failures,
	}})
}

// Retry re-runs a single variation of an in-memory task using its cached
// compressed inputs and immutable config. Tasks reconstructed from disk
// cannot be retried.
func (o *Orchestrator) Retry(ctx context.Context, taskID string, index int) (func(yield func(Event) bool), error) {
	o.mu.Lock()
	rec, ok := o.tasks[taskID]
	o.mu.Unlock()
	if !ok {
		if o.hasArtifactsOnDisk(ctx, taskID) {
			return nil, fmt.Errorf("%w: task %s: %s", domain.ErrNotFound, taskID, ErrConfigLost)
		}
		return nil, fmt.Errorf("%w: task %s", domain.ErrNotFound, taskID)
	}
	if index < 0 || index >= rec.task.Config.Variations {
		return nil, fmt.Errorf("%w: variation index %d out of range", domain.ErrInvalidInput, index)
	}
	gen, ok := o.generators[rec.task.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: provider %q no longer registered", domain.ErrNotFound, rec.task.Provider)
	}

	return func(yield func(Event) bool) {
		task := rec.task
		if !yield(Event{Name: "retry_start", Data: RetryStartData{TaskID: task.ID, Index: index}}) {
			return
		}
		if !yield(Event{Name: "progress", Data: ProgressData{Index: index, Current: index + 1, Total: task.Config.Variations}}) {
			return
		}

		prompt := generator.BuildPrompt(task.Config)
		ref, errMsg := o.attemptVariation(ctx, rec, gen, prompt, index)
		if errMsg != "" {
			yield(Event{Name: "error", Data: ErrorData{Index: index, Message: errMsg, Retryable: true}})
			yield(Event{Name: "retry_finish", Data: RetryFinishData{TaskID: task.ID, Index: index, Success: false, Error: errMsg}})
			return
		}

		o.mu.Lock()
		if len(rec.artifacts) == task.Config.Variations {
			task.Status = domain.TaskStatusCompleted
			task.Error = ""
		} else {
			task.Status = domain.TaskStatusPartial
		}
		o.mu.Unlock()

		if !yield(Event{Name: "complete", Data: CompleteData{Index: index, Image: ref}}) {
			return
		}
		yield(Event{Name: "retry_finish", Data: RetryFinishData{TaskID: task.ID, Index: index, Success: true}})
	}, nil
}

// attemptVariation runs one variation through the retry policy and persists
// a success. It returns the artifact reference, or the failure message.
func (o *Orchestrator) attemptVariation(ctx context.Context, rec *taskRecord, gen generator.Generator, prompt string, index int) (string, string) {
	task := rec.task
	req := generator.Request{
		ModelImage:    task.ModelImage,
		ProductImages: task.ProductImages,
		Prompt:        prompt,
		AspectRatio:   task.Config.AspectRatio,
		Style:         task.Config.Style,
		Background:    task.Config.Background,
		Placement:     task.Config.Placement,
		Pose:          task.Config.Pose,
		VariationSeed: index,
	}

	var image []byte
	outcome, attempts, err := o.policy.Execute(ctx, func(ctx context.Context) (retry.Outcome, error) {
		result, err := gen.Generate(ctx, req)
		if err != nil {
			return retry.Outcome{}, err
		}
		if result.Success {
			image = result.Image
		}
		return retry.Outcome{Success: result.Success, Error: result.Error}, nil
	})
	if err != nil {
		return "", err.Error()
	}
	if !outcome.Success {
		return "", outcome.Error
	}

	ref, err := o.persistArtifact(ctx, rec, index, image)
	if err != nil {
		return "", err.Error()
	}
	o.logger.Debug().Str("task_id", task.ID).Int("index", index).Int("attempts", attempts).Msg("variation persisted")
	return ref, ""
}

// persistArtifact writes the indexed artifact plus its thumbnail, replacing
// any earlier artifact at the same index.
func (o *Orchestrator) persistArtifact(ctx context.Context, rec *taskRecord, index int, image []byte) (string, error) {
	task := rec.task
	ext := extensionFor(image)
	filename := strconv.Itoa(index) + ext

	// A retried variation may change format; drop stale files for the index.
	existing, err := o.store.List(ctx, task.ID)
	if err != nil {
		return "", err
	}
	for _, name := range existing {
		if artifactIndex(name) == index || thumbnailIndex(name) == index {
			if err := o.store.Remove(ctx, path.Join(task.ID, name)); err != nil {
				return "", err
			}
		}
	}

	if _, err := o.store.Write(ctx, path.Join(task.ID, filename), image); err != nil {
		return "", err
	}
	if thumb, err := imageutil.Thumbnail(image, thumbnailEdge, thumbnailMaxKB); err == nil {
		if _, err := o.store.Write(ctx, path.Join(task.ID, "thumb_"+strconv.Itoa(index)+".jpg"), thumb); err != nil {
			return "", err
		}
	}

	o.mu.Lock()
	rec.artifacts[index] = filename
	task.Results = artifactFilenames(rec)
	o.mu.Unlock()
	return o.imageURL(task.ID, filename), nil
}

// Status reports a task's state, preferring the in-memory record and falling
// back to a degraded reconstruction from the artifact directory.
func (o *Orchestrator) Status(ctx context.Context, taskID string) (StatusView, error) {
	o.mu.Lock()
	if rec, ok := o.tasks[taskID]; ok {
		view := StatusView{
			TaskID:    rec.task.ID,
			Status:    string(rec.task.Status),
			Provider:  rec.task.Provider,
			Images:    o.imageRefs(rec),
			Error:     rec.task.Error,
			CreatedAt: rec.task.CreatedAt.Format(time.RFC3339),
		}
		o.mu.Unlock()
		return view, nil
	}
	o.mu.Unlock()

	names, err := o.store.List(ctx, taskID)
	if err != nil {
		return StatusView{}, err
	}
	// Saved edit-session products count as images here; after a restart
	// they are as real as the generated ones.
	var images []string
	for _, name := range sortGalleryNames(names) {
		images = append(images, o.imageURL(taskID, name))
	}
	if len(images) == 0 {
		return StatusView{}, fmt.Errorf("%w: task %s", domain.ErrNotFound, taskID)
	}
	return StatusView{
		TaskID:        taskID,
		Status:        string(domain.TaskStatusCompleted),
		Images:        images,
		Reconstructed: true,
	}, nil
}

// Task returns the in-memory record for a task id, used by collaborators
// that need the stored artifacts (edit sessions, downloads).
func (o *Orchestrator) Task(taskID string) (*domain.Task, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rec, ok := o.tasks[taskID]
	if !ok {
		return nil, false
	}
	return rec.task, true
}

// Artifact reads one stored file from a task's directory.
func (o *Orchestrator) Artifact(ctx context.Context, taskID, filename string) ([]byte, error) {
	data, err := o.store.Read(ctx, path.Join(taskID, filename))
	if err != nil {
		return nil, fmt.Errorf("%w: artifact %s/%s", domain.ErrNotFound, taskID, filename)
	}
	return data, nil
}

// Thumbnail returns the thumbnail for the named artifact, falling back to
// the full image when no thumbnail was written.
func (o *Orchestrator) Thumbnail(ctx context.Context, taskID, filename string) ([]byte, error) {
	if i := artifactIndex(filename); i >= 0 {
		thumb := fmt.Sprintf("thumb_%d.jpg", i)
		if data, err := o.store.Read(ctx, path.Join(taskID, thumb)); err == nil {
			return data, nil
		}
	}
	return o.Artifact(ctx, taskID, filename)
}

// ListArtifacts returns the caller-visible image filenames stored for a
// task: generated artifacts and saved edit-session products, thumbnails
// excluded, sorted by variation index.
func (o *Orchestrator) ListArtifacts(ctx context.Context, taskID string) ([]string, error) {
	names, err := o.store.List(ctx, taskID)
	if err != nil {
		return nil, err
	}
	artifacts := sortGalleryNames(names)
	if len(artifacts) == 0 {
		return nil, fmt.Errorf("%w: task %s", domain.ErrNotFound, taskID)
	}
	return artifacts, nil
}

// ArtifactIndex reports the variation index an artifact filename belongs to,
// or -1 for names that are not caller-visible images.
func (o *Orchestrator) ArtifactIndex(name string) int {
	return galleryIndex(name)
}

// sortGalleryNames filters a directory listing down to caller-visible images
// and orders them by variation index, each generated artifact ahead of the
// saved edits derived from it.
func sortGalleryNames(names []string) []string {
	var gallery []string
	for _, name := range names {
		if galleryIndex(name) >= 0 {
			gallery = append(gallery, name)
		}
	}
	sort.Slice(gallery, func(i, j int) bool {
		a, b := gallery[i], gallery[j]
		if ai, bi := galleryIndex(a), galleryIndex(b); ai != bi {
			return ai < bi
		}
		if plain := artifactIndex(a) >= 0; plain != (artifactIndex(b) >= 0) {
			return plain
		}
		return a < b
	})
	return gallery
}

// Cleanup evicts a task from the in-memory index and deletes its artifacts.
func (o *Orchestrator) Cleanup(ctx context.Context, taskID string) error {
	o.mu.Lock()
	delete(o.tasks, taskID)
	o.mu.Unlock()
	return o.store.RemoveAll(ctx, taskID)
}

// Providers lists the registered backends. The default provider sorts first.
func (o *Orchestrator) Providers() []generator.ProviderInfo {
	infos := make([]generator.ProviderInfo, 0, len(o.generators))
	for _, gen := range o.generators {
		infos = append(infos, gen.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		if (infos[i].Name == o.defaultProvider) != (infos[j].Name == o.defaultProvider) {
			return infos[i].Name == o.defaultProvider
		}
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// DefaultProvider returns the configured default backend name.
func (o *Orchestrator) DefaultProvider() string {
	return o.defaultProvider
}

func (o *Orchestrator) setStatus(rec *taskRecord, status domain.TaskStatus, errMsg string) {
	o.mu.Lock()
	rec.task.Status = status
	if errMsg != "" {
		rec.task.Error = errMsg
	}
	o.mu.Unlock()
}

// imageRefs returns the completed artifact URLs in variation index order.
// Takes no lock; the task is driven by a single caller at a time.
func (o *Orchestrator) imageRefs(rec *taskRecord) []string {
	refs := make([]string, 0, len(rec.artifacts))
	for _, name := range artifactFilenames(rec) {
		refs = append(refs, o.imageURL(rec.task.ID, name))
	}
	return refs
}

func (o *Orchestrator) imageURL(taskID, filename string) string {
	return o.imageURLPrefix + "/" + taskID + "/" + filename
}

func (o *Orchestrator) hasArtifactsOnDisk(ctx context.Context, taskID string) bool {
	names, err := o.store.List(ctx, taskID)
	if err != nil {
		return false
	}
	for _, name := range names {
		if artifactIndex(name) >= 0 {
			return true
		}
	}
	return false
}

func artifactFilenames(rec *taskRecord) []string {
	indexes := make([]int, 0, len(rec.artifacts))
	for i := range rec.artifacts {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	names := make([]string, 0, len(indexes))
	for _, i := range indexes {
		names = append(names, rec.artifacts[i])
	}
	return names
}

func newTaskID() string {
	return "product_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

var artifactName = regexp.MustCompile(`^(\d+)\.(png|jpg|jpeg|webp)$`)
var thumbnailName = regexp.MustCompile(`^thumb_(\d+)\.(png|jpg|jpeg|webp)$`)
var editedArtifactName = regexp.MustCompile(`^(\d+)_edited_.+\.(png|jpg|jpeg|webp)$`)

// artifactIndex parses a variation index out of an artifact filename, or -1.
func artifactIndex(name string) int {
	m := artifactName.FindStringSubmatch(name)
	if m == nil {
		return -1
	}
	i, err := strconv.Atoi(m[1])
	if err != nil {
		return -1
	}
	return i
}

// galleryIndex parses the variation index of any caller-visible image: a
// generated artifact or a saved edit-session product. Thumbnails and the
// like yield -1.
func galleryIndex(name string) int {
	if i := artifactIndex(name); i >= 0 {
		return i
	}
	m := editedArtifactName.FindStringSubmatch(name)
	if m == nil {
		return -1
	}
	i, err := strconv.Atoi(m[1])
	if err != nil {
		return -1
	}
	return i
}

func thumbnailIndex(name string) int {
	m := thumbnailName.FindStringSubmatch(name)
	if m == nil {
		return -1
	}
	i, err := strconv.Atoi(m[1])
	if err != nil {
		return -1
	}
	return i
}

func extensionFor(image []byte) string {
	switch imageutil.DetectFormat(image) {
	case imageutil.FormatJPEG:
		return ".jpg"
	case imageutil.FormatWebP:
		return ".webp"
	default:
		return ".png"
	}
}

var failureMessages = map[string]string{
	"en": "Image generation failed",
	"id": "Pembuatan gambar gagal",
}

func localizedFailure(locale, detail string) string {
	base, ok := failureMessages[locale]
	if !ok {
		base = failureMessages["en"]
	}
	if detail == "" {
		return base
	}
	return base + ": " + detail
}
