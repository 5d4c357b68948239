// Package parcelflowsdk is a small client for the parcelflow HTTP API.
package parcelflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal parcelflow HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no token is set. Development servers only.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, bearerToken string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BasePath:    "/v0",
		BearerToken: bearerToken,
		Timeout:     10 * time.Second,
	}
}

// Case is the API case model (partial).
type Case struct {
	ID             string          `json:"id"`
	CaseType       string          `json:"case_type"`
	RequestNo      string          `json:"request_no"`
	CertificateNo  string          `json:"certificate_no,omitempty"`
	Status         string          `json:"status"`
	SubjectID      string          `json:"subject_id"`
	PartyID        string          `json:"party_id"`
	Checklist      map[string]bool `json:"checklist,omitempty"`
	InspectionID   string          `json:"inspection_id,omitempty"`
	HashSHA256     string          `json:"hash_sha256,omitempty"`
	QRCode         string          `json:"qr_code,omitempty"`
	IssuedAt       string          `json:"issued_at,omitempty"`
	IssuedBy       string          `json:"issued_by,omitempty"`
	AllowedActions []string        `json:"allowed_actions"`
}

type CreateCase struct {
	CaseType  string          `json:"case_type"`
	SubjectID string          `json:"subject_id"`
	PartyID   string          `json:"party_id"`
	Details   map[string]any  `json:"details,omitempty"`
	Checklist map[string]bool `json:"checklist,omitempty"`
}

type Verification struct {
	Valid         bool   `json:"valid"`
	CaseType      string `json:"case_type"`
	Document      string `json:"document"`
	CertificateNo string `json:"certificate_no"`
	RequestNo     string `json:"request_no"`
	Status        string `json:"status"`
	IssuedAt      string `json:"issued_at"`
	IssuedBy      string `json:"issued_by"`
	ParcelNo      string `json:"parcel_no,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	CaseType   string         `json:"case_type,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code is the error envelope's code, e.g.
// invalid_state or incomplete_checklist.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

func (c *Client) CreateCase(ctx context.Context, in CreateCase) (Case, error) {
	var resp Case
	err := c.do(ctx, http.MethodPost, c.apiPath("cases"), in, &resp)
	return resp, err
}

func (c *Client) GetCase(ctx context.Context, id string) (Case, error) {
	var resp Case
	err := c.do(ctx, http.MethodGet, c.apiPath("cases/"+url.PathEscape(id)), nil, &resp)
	return resp, err
}

// Action posts a workflow action such as "issue", "reject" or
// "inspections/complete" with an optional body.
func (c *Client) Action(ctx context.Context, id, action string, body any) (Case, error) {
	var resp Case
	endpoint := c.apiPath(fmt.Sprintf("cases/%s/%s", url.PathEscape(id), strings.Trim(action, "/")))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

func (c *Client) ScheduleInspection(ctx context.Context, id string, scheduledAt time.Time, checklist map[string]bool) (Case, error) {
	body := map[string]any{}
	if !scheduledAt.IsZero() {
		body["scheduled_at"] = scheduledAt.UTC().Format(time.RFC3339)
	}
	if checklist != nil {
		body["checklist"] = checklist
	}
	return c.Action(ctx, id, "inspections", body)
}

func (c *Client) CompleteInspection(ctx context.Context, id string, result map[string]any, remarks string) (Case, error) {
	return c.Action(ctx, id, "inspections/complete", map[string]any{"result": result, "remarks": remarks})
}

func (c *Client) Issue(ctx context.Context, id string) (Case, error) {
	return c.Action(ctx, id, "issue", nil)
}

func (c *Client) Reject(ctx context.Context, id, reason string) (Case, error) {
	return c.Action(ctx, id, "reject", map[string]string{"reason": reason})
}

// Verify looks up a document hash. It needs no credentials.
func (c *Client) Verify(ctx context.Context, hash string) (Verification, error) {
	var resp Verification
	err := c.do(ctx, http.MethodGet, "verify/"+url.PathEscape(hash), nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := c.apiPath("events")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code, apiErr.Message, apiErr.Details = env.Error.Code, env.Error.Message, env.Error.Details
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) apiPath(p string) string {
	return strings.Trim(c.BasePath, "/") + "/" + strings.TrimLeft(p, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
