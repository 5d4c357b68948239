package domain

// Case is one application moving through a case type's workflow: a demarcation
// request, a water connection, a transfer deed and so on.
type Case struct {
	ID              string          `json:"id"`
	CaseType        string          `json:"case_type"`
	RequestNo       string          `json:"request_no"`
	CertificateNo   string          `json:"certificate_no,omitempty"`
	Status          string          `json:"status"`
	SubjectID       string          `json:"subject_id"`
	PartyID         string          `json:"party_id"`
	Details         map[string]any  `json:"details,omitempty"`
	Checklist       map[string]bool `json:"checklist,omitempty"`
	InspectionID    string          `json:"inspection_id,omitempty"`
	PDFPath         string          `json:"pdf_path,omitempty"`
	HashSHA256      string          `json:"hash_sha256,omitempty"`
	QRCode          string          `json:"qr_code,omitempty"`
	IssuedAt        string          `json:"issued_at,omitempty" format:"date-time"`
	IssuedBy        string          `json:"issued_by,omitempty"`
	RejectionReason string          `json:"rejection_reason,omitempty"`
	ClosureReason   string          `json:"closure_reason,omitempty"`
	CreatedAt       string          `json:"created_at" format:"date-time"`
	UpdatedAt       string          `json:"updated_at" format:"date-time"`
}

// Issued reports whether the issuance fields have been written.
func (c Case) Issued() bool {
	return c.CertificateNo != ""
}

const (
	InspectionScheduled  = "scheduled"
	InspectionInProgress = "in_progress"
	InspectionCompleted  = "completed"
)

type Inspection struct {
	ID          string         `json:"id"`
	CaseID      string         `json:"case_id"`
	SubjectID   string         `json:"subject_id"`
	Type        string         `json:"type"`
	ScheduledAt string         `json:"scheduled_at" format:"date-time"`
	InspectedBy string         `json:"inspected_by,omitempty"`
	Status      string         `json:"status" enum:"scheduled,in_progress,completed"`
	Result      map[string]any `json:"result,omitempty"`
	Photos      []string       `json:"photos,omitempty"`
	Remarks     string         `json:"remarks,omitempty"`
	InspectedAt string         `json:"inspected_at,omitempty" format:"date-time"`
	CreatedAt   string         `json:"created_at" format:"date-time"`
}

// Passed is true only for an explicit boolean passed=true in the result.
func (i Inspection) Passed() bool {
	v, ok := i.Result["passed"].(bool)
	return ok && v
}

type Counter struct {
	Prefix       string `json:"prefix"`
	Year         int    `json:"year"`
	CurrentValue int64  `json:"current_value"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

// Property is the subject of a case: a parcel or plot in a scheme.
type Property struct {
	ID        string  `json:"id"`
	ParcelNo  string  `json:"parcel_no"`
	Scheme    string  `json:"scheme,omitempty"`
	Address   string  `json:"address,omitempty"`
	AreaSqM   float64 `json:"area_sq_m,omitempty"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

// Party is the owner or applicant on a case.
type Party struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CNIC      string `json:"cnic,omitempty"`
	Phone     string `json:"phone,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	CaseType   string `json:"case_type,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
