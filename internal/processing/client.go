package processing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	transcribePath     = "/process_supabase_file"
	summarizePath      = "/summarize"
	defaultHTTPTimeout = 5 * time.Minute
	maxResponseBytes   = 8 << 20
)

// RemoteError is the error payload returned by the processing service.
type RemoteError struct {
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("processing service returned status %d", e.StatusCode)
}

// Client calls the remote transcription and summarization endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// New returns a client rooted at baseURL. A zero timeout selects the default.
func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type transcribeRequest struct {
	BucketName string `json:"bucketName"`
	FileName   string `json:"fileName"`
}

type transcribeResponse struct {
	Transcription string `json:"transcription"`
	Error         string `json:"error"`
}

type summarizeRequest struct {
	Text string `json:"text"`
}

type summarizeResponse struct {
	Summary string `json:"summary"`
	Error   string `json:"error"`
}

// Transcribe asks the service to transcribe bucket/objectName.
func (c *Client) Transcribe(ctx context.Context, bucket, objectName string) (string, error) {
	var out transcribeResponse
	if err := c.post(ctx, transcribePath, transcribeRequest{BucketName: bucket, FileName: objectName}, &out); err != nil {
		return "", err
	}
	if out.Error != "" {
		return "", &RemoteError{StatusCode: http.StatusOK, Message: out.Error}
	}
	return out.Transcription, nil
}

// Summarize asks the service to summarize text.
func (c *Client) Summarize(ctx context.Context, text string) (string, error) {
	var out summarizeResponse
	if err := c.post(ctx, summarizePath, summarizeRequest{Text: text}, &out); err != nil {
		return "", err
	}
	if out.Error != "" {
		return "", &RemoteError{StatusCode: http.StatusOK, Message: out.Error}
	}
	return out.Summary, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}

	if resp.StatusCode != http.StatusOK {
		return remoteErrorFrom(resp.StatusCode, payload)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func remoteErrorFrom(status int, payload []byte) error {
	var body struct {
		Error string `json:"error"`
	}
	rerr := &RemoteError{StatusCode: status}
	if err := json.Unmarshal(payload, &body); err == nil && body.Error != "" {
		rerr.Message = body.Error
	} else if text := strings.TrimSpace(string(payload)); text != "" && !json.Valid(payload) {
		rerr.Message = text
	}
	return rerr
}

// IsRemote reports whether err carries a processing service error payload.
func IsRemote(err error) bool {
	var rerr *RemoteError
	return errors.As(err, &rerr)
}
