package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"parcelflow/internal/blob/core"
	"parcelflow/internal/config"
	"parcelflow/internal/document"
	"parcelflow/internal/domain"
	"parcelflow/internal/events"
)

// Issue allocates the certificate number, renders and stores the document and
// writes every issuance field in the same conditional update as the status.
func (e Engine) Issue(ctx context.Context, id, actorID string) (domain.Case, error) {
	if e.Blobs == nil {
		return domain.Case{}, errors.New("blob store not configured")
	}
	if actorID == "" {
		actorID = "system"
	}
	var stored string
	c, err := e.transition(ctx, id, config.ActionIssue, actorID, func(ch change, c *domain.Case) (events.EventPayload, error) {
		if c.Issued() {
			return nil, &InvalidStateError{Action: config.ActionIssue, Required: ch.tr.From, Actual: ch.from}
		}
		issuedAt := e.now().UTC()
		certNo, err := e.sequences().NextTx(ctx, ch.tx, ch.ct.CertificatePrefix, issuedAt.Year())
		if err != nil {
			return nil, err
		}
		cert, err := e.certificate(ctx, ch, *c, certNo, issuedAt, actorID)
		if err != nil {
			return nil, err
		}
		start := time.Now()
		pdf, err := e.Renderer.Render(ctx, cert)
		if err != nil {
			return nil, err
		}
		e.Metrics.ObserveRender(c.CaseType, time.Since(start))

		hash := document.SHA256(pdf)
		key := document.Key(c.CaseType, certNo)
		if err := e.store(ctx, key, pdf, c, certNo); err != nil {
			return nil, err
		}
		stored = key

		c.CertificateNo = certNo
		c.PDFPath = key
		c.HashSHA256 = hash
		c.QRCode = document.VerifyURL(e.BaseURL, hash)
		c.IssuedAt = issuedAt.Format(time.RFC3339)
		c.IssuedBy = actorID
		return events.EventPayload{
			"certificate_no": certNo,
			"hash_sha256":    hash,
			"pdf_path":       key,
		}, nil
	})
	if err != nil && stored != "" {
		if _, delErr := e.Blobs.Delete(context.WithoutCancel(ctx), stored); delErr != nil {
			e.log().Error("remove orphaned document failed", zap.String("key", stored), zap.Error(delErr))
		}
	}
	return c, err
}

// store writes the rendered document. A freshly allocated number cannot belong
// to a committed case, so an existing object under its key is a leftover from
// an aborted issuance and is replaced.
func (e Engine) store(ctx context.Context, key string, pdf []byte, c *domain.Case, certNo string) error {
	opts := core.PutOptions{
		ContentType: "application/pdf",
		Metadata:    map[string]string{"case_id": c.ID, "certificate_no": certNo},
	}
	_, err := e.Blobs.Put(ctx, key, bytes.NewReader(pdf), opts)
	if errors.Is(err, core.ErrExists) {
		if _, err := e.Blobs.Delete(ctx, key); err != nil {
			return fmt.Errorf("replace document %s: %w", key, err)
		}
		_, err = e.Blobs.Put(ctx, key, bytes.NewReader(pdf), opts)
		if err != nil {
			return fmt.Errorf("store document %s: %w", key, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("store document %s: %w", key, err)
	}
	return nil
}

func (e Engine) certificate(ctx context.Context, ch change, c domain.Case, certNo string, issuedAt time.Time, actorID string) (document.Certificate, error) {
	prop, err := e.Repo.GetPropertyTx(ctx, ch.tx, c.SubjectID)
	if err != nil {
		return document.Certificate{}, err
	}
	party, err := e.Repo.GetPartyTx(ctx, ch.tx, c.PartyID)
	if err != nil {
		return document.Certificate{}, err
	}
	var inspection map[string]any
	if c.InspectionID != "" {
		in, err := e.Repo.GetInspectionTx(ctx, ch.tx, c.InspectionID)
		if err != nil {
			return document.Certificate{}, err
		}
		inspection = in.Result
	}
	title := ch.ct.Document
	if title == "" {
		title = ch.ct.Label
	}
	return document.Certificate{
		Kind:          c.CaseType,
		Title:         title,
		Authority:     e.Authority,
		CertificateNo: certNo,
		NumberLabel:   ch.ct.NumberLabel,
		RequestNo:     c.RequestNo,
		Status:        c.Status,
		ParcelNo:      prop.ParcelNo,
		Scheme:        prop.Scheme,
		Address:       prop.Address,
		AreaSqM:       prop.AreaSqM,
		PartyName:     party.Name,
		PartyCNIC:     party.CNIC,
		IssuedAt:      issuedAt,
		IssuedBy:      actorID,
		VerifyBaseURL: e.BaseURL,
		Details:       c.Details,
		Inspection:    inspection,
	}, nil
}
