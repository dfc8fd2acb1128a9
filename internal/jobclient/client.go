package jobclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/vidshelf/internal/media"
	"github.com/snarg/vidshelf/internal/transcribe"
)

// Options configures a Job Service client.
type Options struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	Log     zerolog.Logger
}

// Client calls the Job Service. Every method is a single request; retrying
// is the polling engine's business. One Client is shared by all sessions.
type Client struct {
	base   string
	token  string
	client *http.Client
	log    zerolog.Logger
}

// New creates a Job Service client.
func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base:   strings.TrimRight(opts.BaseURL, "/"),
		token:  opts.Token,
		client: &http.Client{Timeout: timeout},
		log:    opts.Log,
	}
}

type submitBody struct {
	SourceID     string `json:"sourceId"`
	RelativePath string `json:"relativePath"`
	Language     string `json:"language"`
	Model        string `json:"model"`
	Force        bool   `json:"force"`
}

// jobIDs accepts both the current jobId field and the legacy taskId, as a
// string or a number.
type jobIDs struct {
	JobID  json.RawMessage `json:"jobId"`
	TaskID json.RawMessage `json:"taskId"`
}

func (ids jobIDs) id() string {
	if id := rawID(ids.JobID); id != "" {
		return id
	}
	return rawID(ids.TaskID)
}

func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// Submit starts a transcription job and returns its id.
func (c *Client) Submit(ctx context.Context, req transcribe.SubmitRequest) (string, error) {
	body, err := json.Marshal(submitBody{
		SourceID:     req.SourceID,
		RelativePath: req.RelativePath,
		Language:     req.Language,
		Model:        req.Model,
		Force:        req.Force,
	})
	if err != nil {
		return "", &SubmissionError{Err: err}
	}

	resp, data, err := c.do(ctx, http.MethodPost, c.base+"/transcribe", body)
	if err != nil {
		return "", &SubmissionError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &SubmissionError{StatusCode: resp.StatusCode, Detail: errorDetail(data)}
	}

	var ids jobIDs
	if err := json.Unmarshal(data, &ids); err != nil {
		return "", &SubmissionError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	id := ids.id()
	if id == "" {
		return "", &SubmissionError{StatusCode: resp.StatusCode, Err: errors.New("response carries no job id")}
	}

	c.log.Debug().Str("job_id", id).Str("source_id", req.SourceID).Str("path", req.RelativePath).Msg("job submitted")
	return id, nil
}

type transcriptBody struct {
	jobIDs
	Status   string               `json:"status"`
	Progress float64              `json:"progress"`
	Text     string               `json:"text"`
	Segments []transcribe.Segment `json:"segments"`
	Error    *string              `json:"error"`
}

func (b transcriptBody) report(fallbackID string) transcribe.Report {
	r := transcribe.Report{
		JobID:    b.id(),
		Status:   MapStatus(b.Status),
		Progress: int(math.Round(b.Progress)),
		Text:     b.Text,
		Segments: b.Segments,
	}
	if r.JobID == "" {
		r.JobID = fallbackID
	}
	if b.Error != nil {
		r.Error = *b.Error
	}
	return r
}

// Status fetches the current report for a job. A job-level failure comes
// back as a report with StatusError, not as an error.
func (c *Client) Status(ctx context.Context, jobID string) (transcribe.Report, error) {
	resp, data, err := c.do(ctx, http.MethodGet, c.base+"/transcript/"+url.PathEscape(jobID), nil)
	if err != nil {
		return transcribe.Report{}, &StatusFetchError{JobID: jobID, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return transcribe.Report{}, &StatusFetchError{JobID: jobID, StatusCode: resp.StatusCode}
	}

	var body transcriptBody
	if err := json.Unmarshal(data, &body); err != nil {
		return transcribe.Report{}, &StatusFetchError{JobID: jobID, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return body.report(jobID), nil
}

// Exists looks for a finished transcript of an item. It returns nil when
// the Job Service has none.
func (c *Client) Exists(ctx context.Context, item media.Item) (*transcribe.Report, error) {
	u := c.base + "/transcript/exists/" + url.PathEscape(item.SourceID) + "/" + url.PathEscape(item.RelativePath)
	resp, data, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &ExistsCheckError{MediaKey: item.Key(), Err: err}
	}
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ExistsCheckError{MediaKey: item.Key(), StatusCode: resp.StatusCode}
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var body transcriptBody
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, &ExistsCheckError{MediaKey: item.Key(), StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	r := body.report("")
	if !r.HasResult() {
		return nil, nil
	}
	r.Status = transcribe.StatusSuccess
	return &r, nil
}

// Ping checks that the Job Service answers at all, for health reporting.
func (c *Client) Ping(ctx context.Context) error {
	resp, _, err := c.do(ctx, http.MethodGet, c.base+"/", nil)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("job service returned %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, u string, body []byte) (*http.Response, []byte, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	return resp, data, nil
}

// MapStatus folds the Job Service's status vocabulary into the job states.
// Unknown values count as processing; the attempt ceiling bounds them.
func MapStatus(s string) transcribe.Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "success", "completed", "complete", "done":
		return transcribe.StatusSuccess
	case "error", "failed", "failure":
		return transcribe.StatusError
	default:
		return transcribe.StatusProcessing
	}
}

// errorDetail extracts a readable message from an error body. FastAPI-style
// services put it under "detail".
func errorDetail(data []byte) string {
	var body struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		if len(body.Detail) > 0 {
			var s string
			if json.Unmarshal(body.Detail, &s) == nil {
				return s
			}
			return string(body.Detail)
		}
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	text := strings.TrimSpace(string(data))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}
