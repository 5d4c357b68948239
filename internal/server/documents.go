package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	qrcode "github.com/skip2/go-qrcode"

	"parcelflow/internal/blob/core"
	"parcelflow/internal/engine"
)

const (
	documentURLExpiry = 15 * time.Minute
	qrSize            = 256
)

type binaryOutput struct {
	Status             int
	Location           string `header:"Location"`
	ContentType        string `header:"Content-Type"`
	ContentDisposition string `header:"Content-Disposition"`
	CacheControl       string `header:"Cache-Control"`
	Body               []byte
}

func registerDocuments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "cases-document",
		Method:      http.MethodGet,
		Path:        "/cases/{id}/document",
		Summary:     "Download the issued document",
		Description: "Redirects to a presigned URL when the blob store supports one, otherwise streams the PDF.",
		Errors:      []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *caseIDInput) (*binaryOutput, error) {
		url, err := e.DocumentURL(ctx, input.ID, documentURLExpiry)
		switch {
		case err == nil:
			return &binaryOutput{Status: http.StatusFound, Location: url}, nil
		case !errors.Is(err, core.ErrUnsupported):
			return nil, handleError(err)
		}
		c, info, rc, err := e.Document(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, handleError(err)
		}
		contentType := info.ContentType
		if contentType == "" {
			contentType = "application/pdf"
		}
		return &binaryOutput{
			Status:             http.StatusOK,
			ContentType:        contentType,
			ContentDisposition: fmt.Sprintf(`attachment; filename="%s.pdf"`, c.CertificateNo),
			Body:               data,
		}, nil
	})
}

// registerVerify mounts the public verification routes at the API root so the
// QR link printed on a document resolves without credentials.
func registerVerify(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "verify",
		Method:      http.MethodGet,
		Path:        "/verify/{hash}",
		Summary:     "Verify an issued document by its SHA-256",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Hash string `path:"hash"`
	}) (*struct {
		Body VerifyResponse `json:"body"`
	}, error) {
		c, err := e.VerifyDocument(ctx, input.Hash)
		if err != nil {
			return nil, handleError(err)
		}
		resp := VerifyResponse{
			Valid:         true,
			CaseType:      c.CaseType,
			CertificateNo: c.CertificateNo,
			RequestNo:     c.RequestNo,
			Status:        c.Status,
			IssuedAt:      c.IssuedAt,
			IssuedBy:      c.IssuedBy,
			HashSHA256:    c.HashSHA256,
		}
		if ct, ok := e.Config.CaseType(c.CaseType); ok {
			resp.Document = ct.Document
			resp.NumberLabel = ct.NumberLabel
		}
		if p, err := e.Repo.GetProperty(ctx, c.SubjectID); err == nil {
			resp.ParcelNo = p.ParcelNo
		}
		return &struct {
			Body VerifyResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-qr",
		Method:      http.MethodGet,
		Path:        "/verify/{hash}/qr.png",
		Summary:     "QR code linking to the verification page",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Hash string `path:"hash"`
	}) (*binaryOutput, error) {
		c, err := e.VerifyDocument(ctx, input.Hash)
		if err != nil {
			return nil, handleError(err)
		}
		png, err := qrcode.Encode(c.QRCode, qrcode.Medium, qrSize)
		if err != nil {
			return nil, handleError(err)
		}
		return &binaryOutput{
			Status:       http.StatusOK,
			ContentType:  "image/png",
			CacheControl: "public, max-age=86400",
			Body:         png,
		}, nil
	})
}
