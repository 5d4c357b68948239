package server

import (
	"encoding/json"
	"sort"

	"parcelflow/internal/config"
	"parcelflow/internal/domain"
)

// Request payloads

type CreatePropertyRequest struct {
	ID       string  `json:"id,omitempty"`
	ParcelNo string  `json:"parcel_no"`
	Scheme   string  `json:"scheme,omitempty"`
	Address  string  `json:"address,omitempty"`
	AreaSqM  float64 `json:"area_sq_m,omitempty" minimum:"0"`
}

type CreatePartyRequest struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	CNIC  string `json:"cnic,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type CreateCaseRequest struct {
	CaseType  string          `json:"case_type"`
	SubjectID string          `json:"subject_id"`
	PartyID   string          `json:"party_id"`
	Details   map[string]any  `json:"details,omitempty"`
	Checklist map[string]bool `json:"checklist,omitempty"`
}

type ChecklistRequest struct {
	Checklist map[string]bool `json:"checklist"`
}

type RemarksRequest struct {
	Remarks string `json:"remarks,omitempty"`
}

type ReasonRequest struct {
	Reason string `json:"reason"`
}

type ScheduleInspectionRequest struct {
	ScheduledAt string          `json:"scheduled_at,omitempty" format:"date-time"`
	InspectorID string          `json:"inspector_id,omitempty"`
	Checklist   map[string]bool `json:"checklist,omitempty"`
}

type CompleteInspectionRequest struct {
	Result      map[string]any `json:"result"`
	Photos      []string       `json:"photos,omitempty"`
	Remarks     string         `json:"remarks,omitempty"`
	InspectorID string         `json:"inspector_id,omitempty"`
}

// Responses

type CaseResponse struct {
	domain.Case
	AllowedActions []string `json:"allowed_actions"`
}

type AllowedActionsResponse struct {
	CaseID  string   `json:"case_id"`
	Status  string   `json:"status"`
	Actions []string `json:"actions"`
}

type paginatedCases struct {
	Items      []CaseResponse `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	CaseType   string         `json:"case_type,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// VerifyResponse is the public view of an issued document. Party details are
// left out.
type VerifyResponse struct {
	Valid         bool   `json:"valid"`
	CaseType      string `json:"case_type"`
	Document      string `json:"document"`
	CertificateNo string `json:"certificate_no"`
	RequestNo     string `json:"request_no"`
	NumberLabel   string `json:"number_label"`
	Status        string `json:"status"`
	IssuedAt      string `json:"issued_at" format:"date-time"`
	IssuedBy      string `json:"issued_by"`
	HashSHA256    string `json:"hash_sha256"`
	ParcelNo      string `json:"parcel_no,omitempty"`
}

type CaseTypeResponse struct {
	Name           string   `json:"name"`
	Label          string   `json:"label"`
	Prefix         string   `json:"prefix"`
	CertificatePfx string   `json:"certificate_prefix"`
	NumberLabel    string   `json:"number_label"`
	Document       string   `json:"document"`
	Initial        string   `json:"initial"`
	Issued         string   `json:"issued"`
	Terminal       []string `json:"terminal"`
	Checklist      []string `json:"checklist,omitempty"`
	Statuses       []string `json:"statuses"`
	Actions        []string `json:"actions"`
}

type SequenceCodeResponse struct {
	Prefix string `json:"prefix"`
	Year   int    `json:"year"`
	Code   string `json:"code"`
}

// Conversion helpers

func caseResponse(c domain.Case, actions []string) CaseResponse {
	if actions == nil {
		actions = []string{}
	}
	return CaseResponse{Case: c, AllowedActions: actions}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		CaseType:   e.CaseType,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func caseTypeResponse(name string, ct config.CaseType) CaseTypeResponse {
	actions := make([]string, 0, len(ct.Transitions))
	for action := range ct.Transitions {
		actions = append(actions, action)
	}
	sort.Strings(actions)
	return CaseTypeResponse{
		Name:           name,
		Label:          ct.Label,
		Prefix:         ct.Prefix,
		CertificatePfx: ct.CertificatePrefix,
		NumberLabel:    ct.NumberLabel,
		Document:       ct.Document,
		Initial:        ct.Initial,
		Issued:         ct.Issued,
		Terminal:       nonNilSlice(ct.Terminal),
		Checklist:      ct.Checklist,
		Statuses:       ct.Statuses(),
		Actions:        actions,
	}
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out == nil {
		return map[string]any{}
	}
	return out
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
