// Package formio provides the HTTP client for the Formio forms backend.
package formio

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
	"strings"
	"time"

	"rebate_portal_backend/internal/rebates/domain"
	"rebate_portal_backend/platform/config"
	"rebate_portal_backend/platform/logger"
	"rebate_portal_backend/platform/metrics"
)

const (
	apiKeyHeader = "x-token"
	listLimit    = 1000
	backendName  = "formio"
)

// ErrSubmissionNotFound is returned when Formio answers 404 for a submission.
var ErrSubmissionNotFound = errors.New("formio submission not found")

// ErrListTruncated is returned when Formio holds more matches than one list
// call reads. A partial list would hide stages that exist.
var ErrListTruncated = errors.New("formio submission list truncated")

// Form identifies a form and the hidden fields that carry ownership and rebate id.
type Form struct {
	Path          string
	ComboKeyField string
	RebateIDField string
}

// SubmissionInput is the body of a create or update.
type SubmissionInput struct {
	State domain.SubmissionState
	Data  map[string]any
}

// Client is the HTTP client for the Formio REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	listLimit  int
	log        *logger.Logger
}

// New creates a new Formio API client.
func New(cfg config.FormioConfig, log *logger.Logger) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxConnsPerHost:     cfg.GetFormioMaxConns(),
		MaxIdleConnsPerHost: cfg.GetFormioMaxConns(),
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.GetFormioTimeout(), Transport: transport},
		baseURL:    strings.TrimRight(cfg.GetFormioBaseURL(), "/"),
		apiKey:     cfg.GetFormioAPIKey(),
		listLimit:  listLimit,
		log:        log,
	}
}

// ListSubmissions returns the submissions of form owned by any of comboKeys,
// most recently modified first.
func (c *Client) ListSubmissions(ctx context.Context, form Form, comboKeys []string) (subs []domain.FormSubmission, err error) {
	defer func(start time.Time) { metrics.ObserveBackendCall(backendName, "list", start, err) }(time.Now())

	if len(comboKeys) == 0 {
		return nil, nil
	}

	params := url.Values{}
	params.Set("data."+form.ComboKeyField+"__in", strings.Join(comboKeys, ","))
	params.Set("sort", "-modified")
	params.Set("limit", strconv.Itoa(c.listLimit+1))

	reqURL := fmt.Sprintf("%s/%s/submission?%s", c.baseURL, url.PathEscape(form.Path), params.Encode())

	var raw []apiSubmission
	if err := c.doJSON(ctx, http.MethodGet, reqURL, nil, &raw); err != nil {
		return nil, err
	}
	// One extra row is requested so an exact fit is not mistaken for truncation.
	if len(raw) > c.listLimit {
		c.log.Error("formio list hit page limit", "form", form.Path, "limit", c.listLimit, "combo_keys", len(comboKeys))
		return nil, fmt.Errorf("list %s: %w", form.Path, ErrListTruncated)
	}

	subs = make([]domain.FormSubmission, 0, len(raw))
	for _, item := range raw {
		subs = append(subs, item.toDomain(form))
	}
	return subs, nil
}

// GetSubmission fetches one submission by id.
func (c *Client) GetSubmission(ctx context.Context, form Form, id string) (sub domain.FormSubmission, err error) {
	defer func(start time.Time) { metrics.ObserveBackendCall(backendName, "get", start, err) }(time.Now())

	var raw apiSubmission
	if err := c.doJSON(ctx, http.MethodGet, c.submissionURL(form, id), nil, &raw); err != nil {
		return domain.FormSubmission{}, err
	}
	return raw.toDomain(form), nil
}

// CreateSubmission creates a submission and returns it as stored.
func (c *Client) CreateSubmission(ctx context.Context, form Form, in SubmissionInput) (sub domain.FormSubmission, err error) {
	defer func(start time.Time) { metrics.ObserveBackendCall(backendName, "create", start, err) }(time.Now())

	reqURL := fmt.Sprintf("%s/%s/submission", c.baseURL, url.PathEscape(form.Path))

	var raw apiSubmission
	if err := c.doJSON(ctx, http.MethodPost, reqURL, newRequestBody(in), &raw); err != nil {
		return domain.FormSubmission{}, err
	}
	return raw.toDomain(form), nil
}

// UpdateSubmission replaces the state and data of a submission.
func (c *Client) UpdateSubmission(ctx context.Context, form Form, id string, in SubmissionInput) (sub domain.FormSubmission, err error) {
	defer func(start time.Time) { metrics.ObserveBackendCall(backendName, "update", start, err) }(time.Now())

	var raw apiSubmission
	if err := c.doJSON(ctx, http.MethodPut, c.submissionURL(form, id), newRequestBody(in), &raw); err != nil {
		return domain.FormSubmission{}, err
	}
	return raw.toDomain(form), nil
}

// DeleteSubmission deletes a submission. A missing submission yields ErrSubmissionNotFound.
func (c *Client) DeleteSubmission(ctx context.Context, form Form, id string) (err error) {
	defer func(start time.Time) { metrics.ObserveBackendCall(backendName, "delete", start, err) }(time.Now())

	return c.doJSON(ctx, http.MethodDelete, c.submissionURL(form, id), nil, nil)
}

func (c *Client) submissionURL(form Form, id string) string {
	return fmt.Sprintf("%s/%s/submission/%s", c.baseURL, url.PathEscape(form.Path), url.PathEscape(id))
}

func (c *Client) doJSON(ctx context.Context, method, reqURL string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Error("formio request failed", "error", err, "method", method, "url", reqURL)
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// Success - continue to decode
	case resp.StatusCode == http.StatusNotFound:
		return ErrSubmissionNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.log.Error("formio unauthorized", "status", resp.StatusCode)
		return fmt.Errorf("unauthorized: status %d", resp.StatusCode)
	default:
		c.log.Error("formio upstream error", "status", resp.StatusCode, "method", method, "url", reqURL)
		return fmt.Errorf("upstream error: status %d", resp.StatusCode)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.log.Error("formio decode failed", "error", err)
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type requestBody struct {
	State string         `json:"state"`
	Data  map[string]any `json:"data"`
}

func newRequestBody(in SubmissionInput) requestBody {
	data := in.Data
	if data == nil {
		data = map[string]any{}
	}
	return requestBody{State: string(in.State), Data: data}
}

// apiSubmission is the raw submission resource.
type apiSubmission struct {
	ID       string         `json:"_id"`
	State    string         `json:"state"`
	Modified time.Time      `json:"modified"`
	Data     map[string]any `json:"data"`
}

func (a apiSubmission) toDomain(form Form) domain.FormSubmission {
	data := a.Data
	if data == nil {
		data = map[string]any{}
	}
	return domain.FormSubmission{
		ID:             a.ID,
		State:          domain.SubmissionState(a.State),
		Data:           data,
		Modified:       a.Modified,
		EntityComboKey: stringField(data, form.ComboKeyField),
		RebateID:       stringField(data, form.RebateIDField),
	}
}

// stringField reads a hidden field that may arrive as a string or a number.
func stringField(data map[string]any, field string) string {
	switch v := data[field].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}
