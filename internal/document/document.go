// Package document renders the PDF handed out when a case is issued and
// computes the content hash that identifies it publicly.
package document

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Certificate is the snapshot of a case at issuance.
type Certificate struct {
	Kind          string // case type name
	Title         string // e.g. Demarcation Certificate
	Authority     string
	CertificateNo string
	NumberLabel   string
	RequestNo     string
	Status        string
	ParcelNo      string
	Scheme        string
	Address       string
	AreaSqM       float64
	PartyName     string
	PartyCNIC     string
	IssuedAt      time.Time
	IssuedBy      string
	VerifyBaseURL string
	Details       map[string]any
	Inspection    map[string]any
}

type Renderer interface {
	Render(ctx context.Context, c Certificate) ([]byte, error)
}

// PDFRenderer lays out a single A4 page. Output is deterministic for a given
// Certificate so the hash can be recomputed from the stored file.
type PDFRenderer struct{}

var titleCaser = cases.Title(language.English)

// Label turns a snake_case or camelCase identifier into a display label.
func Label(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' && i > 0 {
			b.WriteByte(' ')
		}
		if r == '_' || r == '-' {
			b.WriteByte(' ')
			continue
		}
		b.WriteRune(r)
	}
	return titleCaser.String(strings.ToLower(b.String()))
}

func (PDFRenderer) Render(ctx context.Context, c Certificate) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.CertificateNo == "" {
		return nil, fmt.Errorf("render: certificate number required")
	}
	pdf := fpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetCatalogSort(true)
	pdf.SetCreationDate(c.IssuedAt)
	pdf.SetModificationDate(c.IssuedAt)
	pdf.SetTitle(c.Title+" "+c.CertificateNo, true)
	pdf.SetAuthor(c.Authority, true)
	pdf.SetCreator("parcelflow", true)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, tr(c.Authority), "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "B", 20)
	pdf.CellFormat(0, 14, tr(c.Title), "", 1, "C", false, 0, "")
	pdf.SetDrawColor(60, 60, 60)
	y := pdf.GetY() + 2
	pdf.Line(20, y, 190, y)
	pdf.Ln(8)

	row := func(label, value string) {
		if value == "" {
			return
		}
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(60, 8, tr(label), "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 8, tr(value), "", "L", false)
	}
	row("Certificate No", c.CertificateNo)
	row(Label(c.NumberLabel), c.RequestNo)
	row("Status", Label(c.Status))
	row("Parcel", c.ParcelNo)
	row("Scheme", c.Scheme)
	row("Address", c.Address)
	if c.AreaSqM > 0 {
		row("Area", fmt.Sprintf("%.2f sq m", c.AreaSqM))
	}
	row("Issued To", c.PartyName)
	row("CNIC", c.PartyCNIC)
	row("Issued On", c.IssuedAt.UTC().Format("02 January 2006"))
	row("Issued By", c.IssuedBy)

	if len(c.Details) > 0 {
		pdf.Ln(4)
		pdf.SetFont("Helvetica", "B", 13)
		pdf.CellFormat(0, 9, "Particulars", "", 1, "L", false, 0, "")
		for _, k := range sortedKeys(c.Details) {
			row(Label(k), fmt.Sprint(c.Details[k]))
		}
	}
	if len(c.Inspection) > 0 {
		pdf.Ln(4)
		pdf.SetFont("Helvetica", "B", 13)
		pdf.CellFormat(0, 9, "Site Inspection", "", 1, "L", false, 0, "")
		for _, k := range sortedKeys(c.Inspection) {
			row(Label(k), fmt.Sprint(c.Inspection[k]))
		}
	}

	pdf.Ln(10)
	pdf.SetFont("Helvetica", "I", 9)
	verify := fmt.Sprintf("Verify this document at %s/verify by its SHA-256 fingerprint, or quote certificate no. %s.",
		strings.TrimRight(c.VerifyBaseURL, "/"), c.CertificateNo)
	pdf.MultiCell(0, 5, tr(verify), "", "L", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render %s: %w", c.CertificateNo, err)
	}
	return buf.Bytes(), nil
}

// SHA256 returns the lowercase hex digest of data.
func SHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// VerifyURL builds the public verification link for a document hash.
func VerifyURL(baseURL, hash string) string {
	return strings.TrimRight(baseURL, "/") + "/verify/" + hash
}

// Key is the blob key an issued document is stored under.
func Key(caseType, certificateNo string) string {
	return "documents/" + caseType + "/" + certificateNo + ".pdf"
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
