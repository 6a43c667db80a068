package generator

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"photostudio/internal/imageutil"
	"photostudio/internal/infra"
	"photostudio/internal/retry"
)

// KlingOptions configures the Kling AI image generation backend.
type KlingOptions struct {
	AccessKey string
	SecretKey string
	BaseURL   string
	Model     string
	Client    *http.Client
	Logger    infra.Logger
	// PollInterval overrides the task polling cadence, mainly for tests.
	PollInterval time.Duration
	// PollTimeout bounds how long a submitted task may stay unsettled.
	PollTimeout time.Duration
}

// KlingGenerator drives the asynchronous Kling AI image API: submit a task,
// then poll until it settles.
type KlingGenerator struct {
	name         string
	accessKey    string
	secretKey    string
	baseURL      string
	model        string
	httpClient   *http.Client
	logger       infra.Logger
	pollInterval time.Duration
	pollTimeout  time.Duration
}

// NewKlingGenerator constructs the backend with injected dependencies.
func NewKlingGenerator(name string, opts KlingOptions) *KlingGenerator {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "kling-v1-5"
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	pollTimeout := opts.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 180 * time.Second
	}
	return &KlingGenerator{
		name:         name,
		accessKey:    strings.TrimSpace(opts.AccessKey),
		secretKey:    strings.TrimSpace(opts.SecretKey),
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		model:        model,
		httpClient:   client,
		logger:       opts.Logger,
		pollInterval: interval,
		pollTimeout:  pollTimeout,
	}
}

var _ Generator = (*KlingGenerator)(nil)

// ValidateConfig reports whether credentials and endpoint are present.
func (g *KlingGenerator) ValidateConfig() bool {
	return g.accessKey != "" && g.secretKey != "" && g.baseURL != ""
}

// Info describes the backend for discovery endpoints.
func (g *KlingGenerator) Info() ProviderInfo {
	return ProviderInfo{
		Name:        g.name,
		DisplayName: "Kling AI",
		Type:        "kling_ai",
		Features:    []string{"product_photo"},
		Configured:  g.ValidateConfig(),
	}
}

type klingCreateRequest struct {
	Model  string `json:"model_name"`
	Prompt string `json:"prompt"`
	Image  string `json:"image,omitempty"`
	N      int    `json:"n"`
}

type klingTaskResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		TaskID     string `json:"task_id"`
		TaskStatus string `json:"task_status"`
		TaskMsg    string `json:"task_status_msg"`
		TaskResult struct {
			Images []struct {
				URL string `json:"url"`
			} `json:"images"`
		} `json:"task_result"`
	} `json:"data"`
}

// Generate submits one generation task and polls it to completion.
func (g *KlingGenerator) Generate(ctx context.Context, req Request) (Result, error) {
	payload := klingCreateRequest{
		Model:  g.model,
		Prompt: req.Prompt,
		N:      1,
	}
	if len(req.ModelImage) > 0 {
		payload.Image = base64.StdEncoding.EncodeToString(req.ModelImage)
	}

	created, err := g.call(ctx, http.MethodPost, "/v1/images/generations", payload)
	if err != nil {
		return Result{}, err
	}
	if created.Code != 0 {
		return g.apiFailure(created)
	}
	if created.Data.TaskID == "" {
		return Result{Success: false, Error: "provider accepted the task but returned no task id"}, nil
	}

	return g.poll(ctx, "/v1/images/generations/"+created.Data.TaskID)
}

// poll queries the task endpoint until the task settles, the poll budget
// runs out, or ctx expires. A task the provider never settles becomes a
// typed failure so the retry policy treats it like any other bad answer.
func (g *KlingGenerator) poll(ctx context.Context, path string) (Result, error) {
	deadline := time.Now().Add(g.pollTimeout)
	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()
	for {
		status, err := g.call(ctx, http.MethodGet, path, nil)
		if err != nil {
			return Result{}, err
		}
		if status.Code != 0 {
			return g.apiFailure(status)
		}
		switch status.Data.TaskStatus {
		case "succeed":
			if len(status.Data.TaskResult.Images) == 0 {
				return Result{Success: false, Error: "task succeeded but returned no images"}, nil
			}
			return g.download(ctx, status.Data.TaskResult.Images[0].URL)
		case "failed":
			msg := status.Data.TaskMsg
			if msg == "" {
				msg = "generation task failed"
			}
			return Result{Success: false, Error: msg}, nil
		}

		if time.Now().After(deadline) {
			return Result{Success: false, Error: fmt.Sprintf("generation task did not finish within %s", g.pollTimeout)}, nil
		}
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (g *KlingGenerator) apiFailure(resp *klingTaskResponse) (Result, error) {
	msg := resp.Message
	if msg == "" {
		msg = fmt.Sprintf("provider error code %d", resp.Code)
	}
	// 1103 and 1303 are Kling throttling codes.
	if resp.Code == 1103 || resp.Code == 1303 {
		return Result{}, fmt.Errorf("kling: %s: %w", msg, retry.ErrRateLimited)
	}
	return Result{Success: false, Error: msg}, nil
}

func (g *KlingGenerator) call(ctx context.Context, method, path string, payload any) (*klingTaskResponse, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("kling: encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("kling: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.signToken(time.Now()))

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("kling: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("kling: read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("kling: status 429: %w", retry.ErrRateLimited)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("kling: server error %d", resp.StatusCode)
	}

	var decoded klingTaskResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("kling: decode response: %w", err)
	}
	return &decoded, nil
}

func (g *KlingGenerator) download(ctx context.Context, url string) (Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{}, fmt.Errorf("kling: build download request: %w", err)
	}
	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("kling: download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("kling: download image: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("kling: read image: %w", err)
	}
	if imageutil.DetectFormat(data) == imageutil.FormatUnknown {
		return Result{Success: false, Error: "provider returned data that is not a valid image"}, nil
	}
	g.logger.Debug().Str("provider", g.name).Int("bytes", len(data)).Msg("image generated")
	return Result{
		Success:  true,
		Image:    data,
		Metadata: map[string]string{"model": g.model, "provider": g.name},
	}, nil
}

// signToken builds the short-lived HS256 JWT the Kling API expects.
func (g *KlingGenerator) signToken(now time.Time) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	claims := fmt.Sprintf(`{"iss":%q,"exp":%d,"nbf":%d}`, g.accessKey, now.Add(30*time.Minute).Unix(), now.Add(-5*time.Second).Unix())
	payload := base64.RawURLEncoding.EncodeToString([]byte(claims))
	signingInput := header + "." + payload
	mac := hmac.New(sha256.New, []byte(g.secretKey))
	mac.Write([]byte(signingInput))
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
