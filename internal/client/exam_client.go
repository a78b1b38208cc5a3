package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/auth"
	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/response"
	"github.com/stemsi/exstem-client/internal/validator"
)

// maxBodyBytes bounds how much of a response body is read.
const maxBodyBytes = 4 << 20

// ExamClient is a typed wrapper around the exam endpoints of the remote API.
type ExamClient struct {
	baseURL    string
	session    *auth.SessionContext
	httpClient *http.Client
	log        zerolog.Logger
}

// Option configures the client
type Option func(*ExamClient)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *ExamClient) {
		c.httpClient = client
	}
}

// WithTimeout sets the client timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *ExamClient) {
		c.httpClient.Timeout = timeout
	}
}

// WithLogger sets the logger requests are traced to.
func WithLogger(log zerolog.Logger) Option {
	return func(c *ExamClient) {
		c.log = log.With().Str("component", "exam_client").Logger()
	}
}

// New creates an exam service client authorized by sc.
func New(baseURL string, sc *auth.SessionContext, opts ...Option) *ExamClient {
	c := &ExamClient{
		baseURL: baseURL,
		session: sc,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// StartExam creates a remote session and returns its questions. Every failure is
// reported as ServiceUnavailable; no partial session is returned.
func (c *ExamClient) StartExam(ctx context.Context, opts model.StartOptions) (*model.ExamSession, error) {
	const op = "start exam"

	q := url.Values{}
	q.Set("num_questions", strconv.Itoa(opts.QuestionCount))
	if opts.Category != "" {
		q.Set("category", opts.Category)
	}
	if opts.Difficulty != "" {
		q.Set("difficulty", string(opts.Difficulty))
	}

	body, err := c.doRequest(ctx, http.MethodPost, "/exam/start?"+q.Encode(), nil)
	if err != nil {
		return nil, response.ServiceUnavailable(op, err)
	}

	var session model.ExamSession
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, response.ServiceUnavailable(op, fmt.Errorf("failed to unmarshal response: %w", err))
	}
	if err := validator.Payload(&session); err != nil {
		return nil, response.ServiceUnavailable(op, err)
	}
	session.StartedAt = time.Now()

	return &session, nil
}

// SubmitAnswer records one selection remotely. Callers treat it as best-effort.
func (c *ExamClient) SubmitAnswer(ctx context.Context, sessionID, questionID string, option int) error {
	const op = "submit answer"

	// The scoring service has read both the query string and the JSON body
	// across versions; send both.
	q := url.Values{}
	q.Set("question_id", questionID)
	q.Set("selected_option", strconv.Itoa(option))
	path := fmt.Sprintf("/exam/%s/answer?%s", url.PathEscape(sessionID), q.Encode())

	if _, err := c.doRequest(ctx, http.MethodPost, path, model.AnswerRequest{
		QuestionID:     questionID,
		SelectedOption: option,
	}); err != nil {
		return classify(op, err)
	}
	return nil
}

// SubmitExam finalizes the session and returns the scored result.
func (c *ExamClient) SubmitExam(ctx context.Context, sessionID string) (*model.SubmitResult, error) {
	const op = "submit exam"

	body, err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/exam/%s/submit", url.PathEscape(sessionID)), nil)
	if err != nil {
		return nil, classify(op, err)
	}

	var result model.SubmitResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, response.ServiceUnavailable(op, fmt.Errorf("failed to unmarshal response: %w", err))
	}
	if err := validator.Payload(&result); err != nil {
		return nil, response.ServiceUnavailable(op, err)
	}
	if result.Result.SessionID == "" {
		result.Result.SessionID = sessionID
	}

	return &result, nil
}

// History lists the caller's completed sessions, most recent first.
func (c *ExamClient) History(ctx context.Context) ([]model.HistoryEntry, error) {
	const op = "exam history"

	body, err := c.doRequest(ctx, http.MethodGet, "/exam/history", nil)
	if err != nil {
		return nil, response.ServiceUnavailable(op, err)
	}

	var entries []model.HistoryEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, response.ServiceUnavailable(op, fmt.Errorf("failed to unmarshal response: %w", err))
	}
	return entries, nil
}

// Me returns the profile of the token's owner. A rejected token is
// SessionInvalid; a profile without an id is treated the same way.
func (c *ExamClient) Me(ctx context.Context) (*model.Profile, error) {
	const op = "load profile"

	body, err := c.doRequest(ctx, http.MethodGet, "/auth/me", nil)
	if err != nil {
		return nil, classify(op, err)
	}

	var p model.Profile
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, response.ServiceUnavailable(op, fmt.Errorf("failed to unmarshal response: %w", err))
	}
	if p.ID == "" {
		return nil, response.SessionInvalid(op, errors.New("profile has no id"))
	}
	return &p, nil
}

// doRequest performs an HTTP request and returns the body of a 2xx response.
// Non-2xx responses are returned as *StatusError.
func (c *ExamClient) doRequest(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	authHeader, err := c.session.AuthorizationHeader()
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	reqID := response.NewRequestID()
	req.Header.Set("Authorization", authHeader)
	req.Header.Set("Accept", "application/json")
	req.Header.Set(response.HeaderRequestID, reqID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	c.log.Debug().
		Str("request_id", reqID).
		Str("method", method).
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(started)).
		Msg("Exam API call")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Detail: detailOf(body)}
	}

	return body, nil
}

// StatusError is a non-2xx answer of the exam service.
type StatusError struct {
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("API error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("API error: status %d - %s", e.StatusCode, e.Detail)
}

// classify maps a failure of a session-scoped call onto the error taxonomy:
// the service rejecting the session is SessionInvalid, anything else is
// ServiceUnavailable.
func classify(op string, err error) error {
	var se *StatusError
	if errors.As(err, &se) {
		switch se.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden,
			http.StatusNotFound, http.StatusConflict, http.StatusGone:
			return response.SessionInvalid(op, err)
		}
	}
	if errors.Is(err, auth.ErrTokenExpired) || errors.Is(err, auth.ErrLoggedOut) {
		return response.SessionInvalid(op, err)
	}
	return response.ServiceUnavailable(op, err)
}

// detailOf extracts {"detail": "..."} from an error body, if present.
func detailOf(body []byte) string {
	var e struct {
		Detail interface{} `json:"detail"`
	}
	if err := json.Unmarshal(body, &e); err != nil || e.Detail == nil {
		return ""
	}
	if s, ok := e.Detail.(string); ok {
		return s
	}
	raw, _ := json.Marshal(e.Detail)
	return string(raw)
}
