// Package solver talks to the external grid-selection solving service.
// Submission is a single request; result retrieval polls on a capped
// exponential schedule until the service reports a terminal status.
package solver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"challengeflow/internal/backoff"
	"challengeflow/internal/challenge"
	"challengeflow/internal/logging"

	"go.uber.org/zap"
)

const (
	statusProcessing = "processing"
	statusReady      = "ready"
	taskTypeGrid     = "GridTask"
)

type createTaskRequest struct {
	ClientKey string   `json:"clientKey"`
	Task      gridTask `json:"task"`
}

type gridTask struct {
	Type    string `json:"type"`
	Body    string `json:"body"`
	Comment string `json:"comment"`
	ImgType string `json:"imgType"`
}

type createTaskResponse struct {
	ErrorID          int             `json:"errorId"`
	ErrorCode        string          `json:"errorCode"`
	ErrorDescription string          `json:"errorDescription"`
	TaskID           json.RawMessage `json:"taskId"`
}

type taskResultRequest struct {
	ClientKey string `json:"clientKey"`
	TaskID    any    `json:"taskId"`
}

type taskResultResponse struct {
	ErrorID          int    `json:"errorId"`
	ErrorCode        string `json:"errorCode"`
	ErrorDescription string `json:"errorDescription"`
	Status           string `json:"status"`
	Solution         *struct {
		Click []int `json:"click"`
	} `json:"solution"`
}

// Config holds the gateway settings.
type Config struct {
	BaseURL       string
	ClientKey     string
	SubmitTimeout time.Duration
	PollTimeout   time.Duration
	Backoff       backoff.Policy
}

// PollResult is the outcome of one getTaskResult call that did not fail.
type PollResult struct {
	Ready    bool
	Solution challenge.Solution
}

// Client is the Solver Gateway. Safe for use by one resolution flow at a time.
type Client struct {
	cfg     Config
	http    *http.Client
	sleeper backoff.Sleeper
	logger  *zap.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithSleeper replaces the wait used between polls.
func WithSleeper(s backoff.Sleeper) Option {
	return func(c *Client) { c.sleeper = s }
}

// WithLogger sets the logger; the client logs under the solver category.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a gateway for the service at cfg.BaseURL.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 200 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 60 * time.Second
	}
	if cfg.Backoff.Initial <= 0 {
		cfg.Backoff = backoff.DefaultPolicy()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	c := &Client{
		cfg:     cfg,
		http:    &http.Client{},
		sleeper: backoff.RealSleeper,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.For(c.logger, logging.CategorySolver)
	return c
}

// Submit sends a single createTask request. Failures are never retried here:
// a re-submission would be a second billed task, so the caller decides.
func (c *Client) Submit(ctx context.Context, task challenge.SolveTask) (challenge.SolveHandle, error) {
	req := createTaskRequest{
		ClientKey: c.cfg.ClientKey,
		Task: gridTask{
			Type:    taskTypeGrid,
			Body:    base64.StdEncoding.EncodeToString(task.ChallengeImage),
			Comment: task.InstructionText,
			ImgType: task.GridType.WireName(),
		},
	}
	c.logger.Info("submitting task",
		zap.String("img_type", req.Task.ImgType),
		zap.String("comment", req.Task.Comment),
		zap.Int("image_bytes", len(task.ChallengeImage)))

	var resp createTaskResponse
	raw, err := c.post(ctx, "createTask", c.cfg.SubmitTimeout, req, &resp)
	if err != nil {
		return "", err
	}
	c.logger.Debug("createTask response", zap.ByteString("body", raw))

	if resp.ErrorID != 0 {
		return "", &LogicError{Op: "createTask", Code: resp.ErrorCode, Description: resp.ErrorDescription}
	}
	handle := normalizeTaskID(resp.TaskID)
	if handle == "" {
		return "", &LogicError{Op: "createTask", Description: "response carried no taskId"}
	}
	c.logger.Info("task accepted", zap.String("task_id", string(handle)))
	return handle, nil
}

// Poll performs one getTaskResult request.
func (c *Client) Poll(ctx context.Context, handle challenge.SolveHandle) (PollResult, error) {
	req := taskResultRequest{ClientKey: c.cfg.ClientKey, TaskID: wireTaskID(handle)}

	var resp taskResultResponse
	raw, err := c.post(ctx, "getTaskResult", c.cfg.PollTimeout, req, &resp)
	if err != nil {
		return PollResult{}, err
	}
	c.logger.Debug("getTaskResult response", zap.String("task_id", string(handle)), zap.ByteString("body", raw))

	switch resp.Status {
	case statusProcessing:
		return PollResult{}, nil
	case statusReady:
		if resp.Solution == nil || resp.Solution.Click == nil {
			return PollResult{}, &LogicError{Op: "getTaskResult", Status: resp.Status, Description: "ready result has no click solution"}
		}
		return PollResult{Ready: true, Solution: challenge.Solution{Cells: resp.Solution.Click}}, nil
	default:
		return PollResult{}, &LogicError{
			Op:          "getTaskResult",
			Status:      resp.Status,
			Code:        resp.ErrorCode,
			Description: resp.ErrorDescription,
		}
	}
}

// Await polls until the task is ready or the service reports a terminal
// status. "processing" responses and transient transport failures wait on
// the backoff schedule and retry; there is no overall deadline beyond ctx.
func (c *Client) Await(ctx context.Context, handle challenge.SolveHandle) (challenge.Solution, error) {
	sched := c.cfg.Backoff.Start()
	for {
		if err := ctx.Err(); err != nil {
			return challenge.Solution{}, fmt.Errorf("awaiting task %s: %w", handle, err)
		}
		res, err := c.Poll(ctx, handle)
		switch {
		case err == nil && res.Ready:
			c.logger.Info("solution ready", zap.String("task_id", string(handle)), zap.Ints("cells", res.Solution.Cells))
			return res.Solution, nil
		case err == nil:
			d := sched.Next()
			c.logger.Info("task still processing", zap.String("task_id", string(handle)), zap.Duration("wait", d))
			if err := c.sleeper.Sleep(ctx, d); err != nil {
				return challenge.Solution{}, fmt.Errorf("awaiting task %s: %w", handle, err)
			}
		case IsTransient(err) && ctx.Err() == nil:
			d := sched.Next()
			c.logger.Warn("transient poll failure", zap.String("task_id", string(handle)), zap.Error(err), zap.Duration("wait", d))
			if err := c.sleeper.Sleep(ctx, d); err != nil {
				return challenge.Solution{}, fmt.Errorf("awaiting task %s: %w", handle, err)
			}
		default:
			if ctx.Err() != nil {
				return challenge.Solution{}, fmt.Errorf("awaiting task %s: %w", handle, ctx.Err())
			}
			c.logger.Error("task failed", zap.String("task_id", string(handle)), zap.Error(err))
			return challenge.Solution{}, err
		}
	}
}

// post sends a JSON body and decodes a 2xx JSON response into out. Any
// failure is returned as *TransportError.
func (c *Client) post(ctx context.Context, op string, timeout time.Duration, body, out any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", op, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.cfg.BaseURL+"/"+op, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("reading response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Debug("non-2xx response", zap.String("op", op), zap.Int("status", resp.StatusCode), zap.ByteString("body", raw))
		return raw, &TransportError{Op: op, StatusCode: resp.StatusCode}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return raw, &TransportError{Op: op, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return raw, nil
}

// normalizeTaskID accepts numeric or string taskId values.
func normalizeTaskID(raw json.RawMessage) challenge.SolveHandle {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	return challenge.SolveHandle(strings.Trim(s, `"`))
}

// wireTaskID sends numeric handles back as JSON numbers, as the service issued them.
func wireTaskID(h challenge.SolveHandle) any {
	if n := json.Number(h); isDigits(string(h)) {
		return n
	}
	return string(h)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
