package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/roach88/crmsync/internal/model"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "qwen/qwen3-4b-2507"

// DefaultLLMTimeout bounds one completion request.
const DefaultLLMTimeout = 120 * time.Second

const (
	analysisPrompt = "Extract CRM structured data from the provided text. Context Date is %s.\n\n" +
		"Respond with a single JSON object and nothing else. It must satisfy the #Analysis definition of this CUE schema:\n\n%s"
	companyPrompt = "Parse the following search results into a structured CompanyDetails object.\n\n" +
		"Respond with a single JSON object and nothing else. It must satisfy the #CompanyDetails definition of this CUE schema:\n\n%s"
)

// LLMAnalyzer reads messages through an OpenAI-compatible chat completions
// endpoint.
type LLMAnalyzer struct {
	baseURL    string
	apiKey     string
	model      string
	timeout    time.Duration
	httpClient *http.Client
	validator  *Validator
	logger     *slog.Logger
}

// LLMOption configures an LLMAnalyzer.
type LLMOption func(*LLMAnalyzer)

// WithLLMTimeout overrides the per-request timeout.
func WithLLMTimeout(d time.Duration) LLMOption {
	return func(a *LLMAnalyzer) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithLLMHTTPClient replaces the underlying *http.Client.
func WithLLMHTTPClient(hc *http.Client) LLMOption {
	return func(a *LLMAnalyzer) {
		if hc != nil {
			a.httpClient = hc
		}
	}
}

// WithLLMLogger sets the logger.
func WithLLMLogger(l *slog.Logger) LLMOption {
	return func(a *LLMAnalyzer) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewLLMAnalyzer returns an analyzer for the endpoint at baseURL
// (for example "http://localhost:1234/v1"). apiKey may be empty for local
// servers. An empty model selects DefaultModel.
func NewLLMAnalyzer(baseURL, apiKey, modelName string, opts ...LLMOption) (*LLMAnalyzer, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, model.NewInvalidInput("llm base url is required")
	}
	if strings.TrimSpace(modelName) == "" {
		modelName = DefaultModel
	}
	v, err := sharedValidator()
	if err != nil {
		return nil, err
	}
	a := &LLMAnalyzer{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(apiKey),
		model:      modelName,
		timeout:    DefaultLLMTimeout,
		httpClient: &http.Client{},
		validator:  v,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Model returns the configured model name.
func (a *LLMAnalyzer) Model() string { return a.model }

// Analyze implements Analyzer.
func (a *LLMAnalyzer) Analyze(ctx context.Context, text string, contextDate time.Time) (*Analysis, error) {
	date := "Unknown"
	if !contextDate.IsZero() {
		date = contextDate.Format(time.RFC1123Z)
	}
	a.logger.Info("analyzing content", "model", a.model, "context_date", date, "chars", len(text))

	content, err := a.complete(ctx, fmt.Sprintf(analysisPrompt, date, schemaSource), text)
	if err != nil {
		return nil, err
	}
	return a.validator.Analysis(ExtractJSON(content))
}

// ParseCompany implements CompanyParser.
func (a *LLMAnalyzer) ParseCompany(ctx context.Context, text string) (*CompanyDetails, error) {
	content, err := a.complete(ctx, fmt.Sprintf(companyPrompt, schemaSource), text)
	if err != nil {
		return nil, err
	}
	return a.validator.CompanyDetails(ExtractJSON(content))
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (a *LLMAnalyzer) complete(ctx context.Context, system, user string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: a.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", model.NewExtractionError("encode completion request", err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", model.NewExtractionError("build completion request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	started := time.Now()
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", model.NewExtractionError("completion request failed", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", model.NewExtractionError("read completion response", err)
	}
	a.logger.Debug("llm request", "status", resp.StatusCode, "duration", time.Since(started))

	var out chatResponse
	decodeErr := json.Unmarshal(payload, &out)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := fmt.Sprintf("completion returned http %d", resp.StatusCode)
		if decodeErr == nil && out.Error != nil && out.Error.Message != "" {
			msg += ": " + out.Error.Message
		}
		return "", model.NewExtractionError(msg, nil)
	}
	if decodeErr != nil {
		return "", model.NewExtractionError("decode completion response", decodeErr)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", model.NewExtractionError("completion returned no content", nil)
	}
	return out.Choices[0].Message.Content, nil
}

var (
	thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)
	fenceBlock = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")
)

// ExtractJSON pulls the JSON object out of a model reply. Reasoning blocks
// and Markdown code fences are removed; otherwise the outermost braces are
// taken.
func ExtractJSON(content string) []byte {
	content = thinkBlock.ReplaceAllString(content, "")
	if m := fenceBlock.FindStringSubmatch(content); m != nil {
		content = m[1]
	}
	content = strings.TrimSpace(content)
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		content = content[start : end+1]
	}
	return []byte(content)
}
