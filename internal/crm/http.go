package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/crmsync/internal/model"
)

// DefaultTimeout bounds every HTTP attempt.
const DefaultTimeout = 10 * time.Second

// maxErrorBody caps how much of an error response is kept for messages.
const maxErrorBody = 512

// HTTPError is a non-2xx response from the CRM.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// HTTPClient talks to the CRM REST API.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *HTTPClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *HTTPClient) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewHTTPClient returns a client for the CRM at baseURL authenticating with
// apiKey as a bearer token.
func NewHTTPClient(baseURL, apiKey string, opts ...Option) (*HTTPClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, model.NewInvalidInput("crm base url is required")
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, model.NewInvalidInput("crm api key is required")
	}
	c := &HTTPClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		timeout:    DefaultTimeout,
		httpClient: &http.Client{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type listEnvelope struct {
	Data []struct {
		ID model.RemoteID `json:"id"`
	} `json:"data"`
}

type itemEnvelope struct {
	Data struct {
		ID model.RemoteID `json:"id"`
	} `json:"data"`
}

func (c *HTTPClient) Find(ctx context.Context, t model.EntityType, key string) ([]model.RemoteID, error) {
	path, err := collectionPath(t)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set(searchParams[t], key)

	var out listEnvelope
	status, err := c.do(ctx, http.MethodGet, path+"?"+q.Encode(), nil, &out)
	if status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, model.WithEntity(err, t, key)
	}
	ids := make([]model.RemoteID, 0, len(out.Data))
	for _, rec := range out.Data {
		if !rec.ID.IsZero() {
			ids = append(ids, rec.ID)
		}
	}
	return ids, nil
}

func (c *HTTPClient) Create(ctx context.Context, t model.EntityType, attrs model.Attributes) (model.RemoteID, error) {
	path, err := collectionPath(t)
	if err != nil {
		return "", err
	}
	var out itemEnvelope
	if _, err := c.do(ctx, http.MethodPost, path, FilterAttributes(t, attrs), &out); err != nil {
		return "", err
	}
	if out.Data.ID.IsZero() {
		return "", model.NewRemoteRejected("create returned no id", 0, nil)
	}
	return out.Data.ID, nil
}

func (c *HTTPClient) Patch(ctx context.Context, t model.EntityType, id model.RemoteID, attrs model.Attributes) error {
	path, err := collectionPath(t)
	if err != nil {
		return err
	}
	if id.IsZero() {
		return model.NewInvalidInput("patch requires a remote id")
	}
	_, err = c.do(ctx, http.MethodPatch, path+"/"+url.PathEscape(id.String()), FilterAttributes(t, attrs), nil)
	return err
}

func (c *HTTPClient) LogActivity(ctx context.Context, a Activity) error {
	payload := map[string]any{
		"type": a.Type,
		"text": a.Text,
	}
	switch a.Type {
	case model.ActivityCompanyNote:
		if a.CompanyID.IsZero() {
			return model.NewInvalidInput("company note requires a company id")
		}
		payload["company_id"] = a.CompanyID
	default:
		if a.ContactID.IsZero() {
			return model.NewInvalidInput("contact note requires a contact id")
		}
		payload["contact_id"] = a.ContactID
		payload["status"] = ContactNoteStatus
	}
	if !a.Date.IsZero() {
		payload["date"] = a.Date.UTC().Format(time.RFC3339)
	}
	_, err := c.do(ctx, http.MethodPost, activitiesPath, payload, nil)
	return err
}

func (c *HTTPClient) CreateTask(ctx context.Context, task Task) error {
	if task.ContactID.IsZero() {
		return model.NewInvalidInput("task requires a contact id")
	}
	priority := task.Priority
	if priority == "" {
		priority = DefaultTaskPriority
	}
	payload := map[string]any{
		"type":       "task",
		"contact_id": task.ContactID,
		"text":       task.Text,
		"priority":   priority,
	}
	if task.DueDate != "" {
		payload["due_date"] = task.DueDate
	}
	_, err := c.do(ctx, http.MethodPost, activitiesPath, payload, nil)
	return err
}

func (c *HTTPClient) CreateDeal(ctx context.Context, d Deal) (model.RemoteID, error) {
	if d.CompanyID.IsZero() {
		return "", model.NewInvalidInput("deal requires a company id")
	}
	stage := d.Stage
	if stage == "" {
		stage = DefaultDealStage
	}
	contactIDs := d.ContactIDs
	if contactIDs == nil {
		contactIDs = []model.RemoteID{}
	}
	payload := map[string]any{
		"name":        d.Name,
		"amount":      d.Amount,
		"stage":       stage,
		"company_id":  d.CompanyID,
		"contact_ids": contactIDs,
	}
	if d.Category != "" {
		payload["category"] = d.Category
	}
	if d.Description != "" {
		payload["description"] = d.Description
	}
	var out itemEnvelope
	if _, err := c.do(ctx, http.MethodPost, dealsPath, payload, &out); err != nil {
		return "", err
	}
	return out.Data.ID, nil
}

// do performs one HTTP round trip and decodes a 2xx JSON body into out.
// It returns the response status (0 when no response arrived) alongside
// any classified error.
func (c *HTTPClient) do(ctx context.Context, method, requestPath string, body, out any) (int, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, model.NewInvalidInput(fmt.Sprintf("encode request body: %v", err))
		}
		bodyReader = bytes.NewReader(data)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
	if err != nil {
		return 0, model.NewInvalidInput(fmt.Sprintf("build request: %v", err))
	}
	correlationID := uuid.NewString()
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Correlation-Id", correlationID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	op := method + " " + stripQuery(requestPath)
	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// The caller's own cancellation is not a remote failure.
		if parent := context.Cause(ctx); errors.Is(parent, context.Canceled) {
			return 0, parent
		}
		return 0, model.NewRemoteUnavailable(op, 0, err)
	}
	payload, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	c.logger.Debug("crm request",
		"op", op,
		"status", resp.StatusCode,
		"correlation_id", correlationID,
		"duration", time.Since(started),
	)

	if readErr != nil {
		return resp.StatusCode, model.NewRemoteUnavailable(op, resp.StatusCode, readErr)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		if out == nil || len(bytes.TrimSpace(payload)) == 0 {
			return resp.StatusCode, nil
		}
		if err := json.Unmarshal(payload, out); err != nil {
			return resp.StatusCode, model.NewRemoteRejected(op+": malformed response", resp.StatusCode, err)
		}
		return resp.StatusCode, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return resp.StatusCode, model.NewRemoteUnavailable(op, resp.StatusCode, httpError(resp.StatusCode, payload))
	default:
		return resp.StatusCode, model.NewRemoteRejected(op, resp.StatusCode, httpError(resp.StatusCode, payload))
	}
}

func httpError(status int, payload []byte) *HTTPError {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	msg := ""
	if json.Unmarshal(payload, &body) == nil {
		msg = body.Message
		if msg == "" {
			msg = body.Error
		}
	}
	if msg == "" {
		msg = strings.TrimSpace(string(payload))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
	}
	return &HTTPError{StatusCode: status, Message: msg}
}

func collectionPath(t model.EntityType) (string, error) {
	path, ok := resourcePaths[t]
	if !ok {
		return "", model.NewInvalidEntity(t, "unknown entity type")
	}
	return path, nil
}

func stripQuery(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		return p[:i]
	}
	return p
}
