package generator

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"photostudio/internal/retry"
)

var pngStub = []byte("\x89PNG\r\n\x1a\n0123456789")

type responseStub struct {
	status int
	body   []byte
}

type captureTransport struct {
	responses map[string]responseStub
	lastBody  []byte
}

func (c *captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body != nil {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body.Close()
		c.lastBody = body
	}
	stub, ok := c.responses[req.URL.Path]
	if !ok {
		return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(bytes.NewReader(nil))}, nil
	}
	return &http.Response{
		StatusCode: stub.status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewReader(stub.body)),
	}, nil
}

func (c *captureTransport) setJSONResponse(path string, payload any) {
	body, _ := json.Marshal(payload)
	c.responses[path] = responseStub{status: http.StatusOK, body: body}
}

func newOpenAIForTest(transport *captureTransport) *OpenAIGenerator {
	return NewOpenAIGenerator("primary", OpenAIOptions{
		APIKey:  "sk-test",
		BaseURL: "https://api.example.com/v1",
		Model:   "test-model",
		Client:  &http.Client{Transport: transport},
		Logger:  zerolog.Nop(),
	})
}

func chatReply(content string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{{
			"message": map[string]any{"content": content},
		}},
	}
}

func TestOpenAIGenerateDataURL(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	encoded := base64.StdEncoding.EncodeToString(pngStub)
	transport.setJSONResponse("/v1/chat/completions", chatReply("data:image/png;base64,"+encoded))

	g := newOpenAIForTest(transport)
	result, err := g.Generate(context.Background(), Request{
		Prompt:     "studio photo",
		ModelImage: pngStub,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if !bytes.Equal(result.Image, pngStub) {
		t.Fatal("decoded image mismatch")
	}

	var sent chatRequest
	if err := json.Unmarshal(transport.lastBody, &sent); err != nil {
		t.Fatalf("decode sent body: %v", err)
	}
	if sent.Model != "test-model" {
		t.Fatalf("model = %q", sent.Model)
	}
	if len(sent.Messages) != 1 || len(sent.Messages[0].Content) != 2 {
		t.Fatalf("unexpected message shape: %+v", sent.Messages)
	}
	if sent.Messages[0].Content[0].Type != "text" || sent.Messages[0].Content[1].Type != "image_url" {
		t.Fatalf("unexpected content types: %+v", sent.Messages[0].Content)
	}
}

func TestOpenAIGenerateMarkdownURL(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	transport.setJSONResponse("/v1/chat/completions", chatReply("Here you go: ![result](https://api.example.com/files/out.png)"))
	transport.responses["/files/out.png"] = responseStub{status: http.StatusOK, body: pngStub}

	g := newOpenAIForTest(transport)
	result, err := g.Generate(context.Background(), Request{Prompt: "p", ModelImage: pngStub})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !result.Success || !bytes.Equal(result.Image, pngStub) {
		t.Fatalf("result=%+v", result)
	}
}

func TestOpenAIUnauthorizedIsTypedFailure(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{
		"/v1/chat/completions": {status: http.StatusUnauthorized, body: []byte(`{"error":{"message":"bad key"}}`)},
	}}

	g := newOpenAIForTest(transport)
	result, err := g.Generate(context.Background(), Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("401 should not be a transport error: %v", err)
	}
	if result.Success || !strings.Contains(result.Error, "API key") {
		t.Fatalf("result=%+v", result)
	}
}

func TestOpenAIRateLimitIsTransportError(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{
		"/v1/chat/completions": {status: http.StatusTooManyRequests, body: []byte(`{}`)},
	}}

	g := newOpenAIForTest(transport)
	_, err := g.Generate(context.Background(), Request{Prompt: "p"})
	if !errors.Is(err, retry.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestOpenAINoImageIsTypedFailure(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	transport.setJSONResponse("/v1/chat/completions", chatReply("I cannot generate that image."))

	g := newOpenAIForTest(transport)
	result, err := g.Generate(context.Background(), Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if result.Success || !strings.Contains(result.Error, "no image") {
		t.Fatalf("result=%+v", result)
	}
}

func TestOpenAIInvalidImageBytesIsTypedFailure(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	encoded := base64.StdEncoding.EncodeToString([]byte("not an image"))
	transport.setJSONResponse("/v1/chat/completions", chatReply("data:image/png;base64,"+encoded))

	g := newOpenAIForTest(transport)
	result, err := g.Generate(context.Background(), Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if result.Success || !strings.Contains(result.Error, "valid image") {
		t.Fatalf("result=%+v", result)
	}
}

func TestExtractImageRef(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    string
	}{
		{"markdown", "![img](https://cdn.example.com/a.png)", "https://cdn.example.com/a.png"},
		{"data url", "result: data:image/png;base64,AAAA done", "data:image/png;base64,AAAA"},
		{"bare url", "see https://cdn.example.com/b.png for output", "https://cdn.example.com/b.png"},
		{"nothing", "sorry, no image", ""},
	}
	for _, tc := range cases {
		if got := extractImageRef(tc.content); got != tc.want {
			t.Errorf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}
