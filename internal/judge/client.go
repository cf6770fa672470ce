// Package judge calls a Judge0-compatible code execution service.
package judge

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

var (
	ErrMissingLanguage     = errors.New("languageId is required")
	ErrMissingSource       = errors.New("sourceCode is required")
	ErrUpstreamUnavailable = errors.New("execution service unavailable")
)

const maxUpstreamBody = 1 << 20

// UpstreamError is a non-2xx answer from the execution service.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("execution service returned %d", e.StatusCode)
	}
	return fmt.Sprintf("execution service returned %d: %s", e.StatusCode, e.Body)
}

// Submission is one run request.
type Submission struct {
	LanguageID int    `json:"language_id"`
	SourceCode string `json:"source_code"`
	Stdin      string `json:"stdin"`
}

func (s Submission) Validate() error {
	if s.LanguageID == 0 {
		return ErrMissingLanguage
	}
	if s.SourceCode == "" {
		return ErrMissingSource
	}
	return nil
}

// Status is the Judge0 verdict.
type Status struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
}

// Result is the part of a Judge0 submission response we use.
type Result struct {
	Stdout        *string `json:"stdout"`
	Stderr        *string `json:"stderr"`
	CompileOutput *string `json:"compile_output"`
	Message       *string `json:"message"`
	Status        Status  `json:"status"`
}

// Output picks what to show the user: stdout when the program wrote any,
// otherwise the first non-empty of stderr, compiler output and the judge's
// message.
func (r *Result) Output() (stdout, stderr string, isStderr bool) {
	if r.Stdout != nil && *r.Stdout != "" {
		return *r.Stdout, "", false
	}
	for _, s := range []*string{r.Stderr, r.CompileOutput, r.Message} {
		if s != nil && *s != "" {
			return "", *s, true
		}
	}
	return "", "", false
}

// Config for the execution service. APIKey and APIHost are sent as
// RapidAPI headers when set.
type Config struct {
	BaseURL string
	APIKey  string
	APIHost string
	Timeout time.Duration
}

// Client is safe for concurrent use and holds no per-request state.
type Client struct {
	baseURL string
	apiKey  string
	apiHost string
	http    *http.Client
}

func NewClient(cfg Config) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		apiHost: cfg.APIHost,
		http:    &http.Client{Timeout: cfg.Timeout},
	}
}

// Run submits source code and waits for the verdict.
func (c *Client) Run(ctx context.Context, s Submission) (*Result, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	body, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal submission: %w", err)
	}

	url := c.baseURL + "/submissions?base64_encoded=false&wait=true"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-RapidAPI-Key", c.apiKey)
	}
	if c.apiHost != "" {
		req.Header.Set("X-RapidAPI-Host", c.apiHost)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUpstreamUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: "undecodable response: " + err.Error()}
	}
	return &result, nil
}
