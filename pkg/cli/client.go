package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// APIError carries the HTTP status and the server's error message.
type APIError struct {
	HTTPStatus int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("server returned %d", e.HTTPStatus)
}

// Client is a thin HTTP client for the opsgate API.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// do issues one request. A non-nil out is filled from the JSON response
// body. Error responses are decoded into APIError.
//
// The command endpoints return the verdict body with both 2xx and 403
// (a denial is a first-class outcome, not a transport failure), so 403
// on those paths decodes into out rather than an error.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}, okStatuses ...int) error {
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		rdr = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.BaseURL, "/")+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	for _, s := range okStatuses {
		ok = ok || resp.StatusCode == s
	}
	if !ok {
		apiErr := &APIError{HTTPStatus: resp.StatusCode}
		var decoded struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &decoded) == nil {
			apiErr.Code = decoded.Code
			apiErr.Message = decoded.Message
		}
		return apiErr
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// === wire types ===

type CommandResult struct {
	CommandID         string     `json:"command_id"`
	State             string     `json:"state"`
	Verdict           string     `json:"verdict"`
	Reason            string     `json:"reason,omitempty"`
	Detail            string     `json:"detail,omitempty"`
	PolicyIDs         []string   `json:"policy_ids,omitempty"`
	LedgerEntryID     int64      `json:"ledger_entry_id,omitempty"`
	ApprovalsRecorded int        `json:"approvals_recorded,omitempty"`
	RequiredApprovals int        `json:"required_approvals,omitempty"`
	ApprovalExpiresAt *time.Time `json:"approval_expires_at,omitempty"`
}

type LedgerEntry struct {
	ID            int64                  `json:"id"`
	CommandID     string                 `json:"command_id"`
	Actor         string                 `json:"actor"`
	Action        string                 `json:"action"`
	ResourceType  string                 `json:"resource_type"`
	ResourceID    string                 `json:"resource_id"`
	Environment   string                 `json:"environment"`
	Parameters    map[string]interface{} `json:"parameters,omitempty"`
	Verdict       string                 `json:"verdict"`
	Reason        string                 `json:"reason,omitempty"`
	PolicyIDs     []string               `json:"policy_ids,omitempty"`
	Justification string                 `json:"justification,omitempty"`
	DurationMs    *int64                 `json:"duration_ms,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

type CommandDetail struct {
	CommandID    string                 `json:"command_id"`
	Actor        string                 `json:"actor"`
	Action       string                 `json:"action"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id"`
	Environment  string                 `json:"environment"`
	Parameters   map[string]interface{} `json:"parameters,omitempty"`
	State        string                 `json:"state"`
	RequestedAt  time.Time              `json:"requested_at"`
	History      []LedgerEntry          `json:"history"`
}

type LedgerPage struct {
	Entries       []LedgerEntry `json:"entries"`
	Total         int64         `json:"total"`
	NextPageToken string        `json:"next_page_token,omitempty"`
}

type PolicySet struct {
	Version  int                 `json:"version"`
	Hash     string              `json:"hash"`
	LoadedAt time.Time           `json:"loaded_at"`
	Roles    map[string][]string `json:"roles"`
	Rules    []struct {
		ID   string `json:"id"`
		Kind string `json:"kind"`
	} `json:"rules"`
}

type Principal struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type DesignReport struct {
	Allowed     bool     `json:"allowed"`
	Reason      string   `json:"reason,omitempty"`
	PolicyIDs   []string `json:"policy_ids,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// === operations ===

type SubmitRequest struct {
	Action       string                 `json:"action"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id"`
	Environment  string                 `json:"environment"`
	Parameters   map[string]interface{} `json:"parameters,omitempty"`
}

func (c *Client) SubmitCommand(ctx context.Context, req SubmitRequest) (*CommandResult, error) {
	var res CommandResult
	if err := c.do(ctx, http.MethodPost, "/v1/commands", req, &res, http.StatusForbidden); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) GetCommand(ctx context.Context, id string) (*CommandDetail, error) {
	var res CommandDetail
	if err := c.do(ctx, http.MethodGet, "/v1/commands/"+url.PathEscape(id), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Approve(ctx context.Context, id string) (*CommandResult, error) {
	var res CommandResult
	if err := c.do(ctx, http.MethodPost, "/v1/commands/"+url.PathEscape(id)+"/approvals", struct{}{}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Override(ctx context.Context, id, justification string) (*CommandResult, error) {
	body := map[string]string{"justification": justification}
	var res CommandResult
	if err := c.do(ctx, http.MethodPost, "/v1/commands/"+url.PathEscape(id)+"/override", body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// LedgerQuery mirrors the GET /v1/ledger query parameters. Zero values
// are omitted.
type LedgerQuery struct {
	Actor        string
	ResourceID   string
	ResourceType string
	Verdict      string
	CommandID    string
	From         string
	To           string
	MaxResults   int
	PageToken    string
}

func (c *Client) ListLedger(ctx context.Context, q LedgerQuery) (*LedgerPage, error) {
	params := url.Values{}
	set := func(k, v string) {
		if v != "" {
			params.Set(k, v)
		}
	}
	set("actor", q.Actor)
	set("resource_id", q.ResourceID)
	set("resource_type", q.ResourceType)
	set("verdict", q.Verdict)
	set("command_id", q.CommandID)
	set("from", q.From)
	set("to", q.To)
	set("page_token", q.PageToken)
	if q.MaxResults > 0 {
		params.Set("max_results", fmt.Sprintf("%d", q.MaxResults))
	}

	path := "/v1/ledger"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	var res LedgerPage
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) GetPolicies(ctx context.Context) (*PolicySet, error) {
	var res PolicySet
	if err := c.do(ctx, http.MethodGet, "/v1/policies", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ReplacePolicies uploads a raw YAML policy document.
func (c *Client) ReplacePolicies(ctx context.Context, raw []byte) (*PolicySet, error) {
	var res PolicySet
	if err := c.do(ctx, http.MethodPut, "/v1/policies", raw, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) CreatePrincipal(ctx context.Context, name, role string) (*Principal, error) {
	body := map[string]string{"name": name, "role": role}
	var res Principal
	if err := c.do(ctx, http.MethodPost, "/v1/principals", body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) ListPrincipals(ctx context.Context) ([]Principal, error) {
	var res []Principal
	if err := c.do(ctx, http.MethodGet, "/v1/principals", nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) DeletePrincipal(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/v1/principals/%d", id), nil, nil)
}

// ValidateDesign submits a raw JSON design document for a dry-run check.
func (c *Client) ValidateDesign(ctx context.Context, raw []byte) (*DesignReport, error) {
	var res DesignReport
	if err := c.do(ctx, http.MethodPost, "/v1/designs/validate", raw, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
