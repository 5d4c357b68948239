package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"parcelflow/internal/blob/core"
	"parcelflow/internal/domain"
	"parcelflow/internal/repo"
)

func checkPrefix(prefix string, year int) error {
	if prefix == "" || strings.ContainsAny(prefix, " \t\r\n") {
		return invalid("prefix", "must be a non-empty token")
	}
	if year < 1900 || year > 9999 {
		return invalid("year", "must be a four digit year")
	}
	return nil
}

// reservedPrefix names the case type whose request or certificate numbers
// are drawn from prefix, if any.
func (e Engine) reservedPrefix(prefix string) (string, bool) {
	if e.Config == nil {
		return "", false
	}
	for _, name := range e.Config.CaseTypeNames() {
		ct, _ := e.Config.CaseType(name)
		if strings.EqualFold(prefix, ct.Prefix) || strings.EqualFold(prefix, ct.CertificatePrefix) {
			return name, true
		}
	}
	return "", false
}

// NextNumber allocates a standalone number, e.g. for a paper register kept
// alongside the system. The allocation is not tied to a case, so prefixes
// owned by a case type are refused.
func (e Engine) NextNumber(ctx context.Context, prefix string, year int) (string, error) {
	if year == 0 {
		year = e.now().Year()
	}
	if err := checkPrefix(prefix, year); err != nil {
		return "", err
	}
	if name, ok := e.reservedPrefix(prefix); ok {
		return "", invalid("prefix", "%s is numbered by case type %s", prefix, name)
	}
	return e.sequences().Next(ctx, prefix, year)
}

func (e Engine) Counter(ctx context.Context, prefix string, year int) (domain.Counter, error) {
	if year == 0 {
		year = e.now().Year()
	}
	if err := checkPrefix(prefix, year); err != nil {
		return domain.Counter{}, err
	}
	return e.sequences().Get(ctx, prefix, year)
}

func (e Engine) Counters(ctx context.Context) ([]domain.Counter, error) {
	return e.sequences().List(ctx)
}

// Document opens the stored PDF of an issued case. The caller closes the reader.
func (e Engine) Document(ctx context.Context, id string) (domain.Case, core.Info, io.ReadCloser, error) {
	c, err := e.Repo.GetCase(ctx, id)
	if err != nil {
		return domain.Case{}, core.Info{}, nil, err
	}
	if !c.Issued() || c.PDFPath == "" {
		return c, core.Info{}, nil, fmt.Errorf("document for case %s: %w", id, repo.ErrNotFound)
	}
	if e.Blobs == nil {
		return c, core.Info{}, nil, errors.New("blob store not configured")
	}
	info, rc, err := e.Blobs.Get(ctx, c.PDFPath)
	if err != nil {
		return c, core.Info{}, nil, err
	}
	return c, info, rc, nil
}

// DocumentURL returns a presigned link when the store supports one.
// core.ErrUnsupported means the caller should stream via Document.
func (e Engine) DocumentURL(ctx context.Context, id string, expiry time.Duration) (string, error) {
	c, err := e.Repo.GetCase(ctx, id)
	if err != nil {
		return "", err
	}
	if !c.Issued() || c.PDFPath == "" {
		return "", fmt.Errorf("document for case %s: %w", id, repo.ErrNotFound)
	}
	if e.Blobs == nil {
		return "", core.ErrUnsupported
	}
	return e.Blobs.PresignURL(ctx, c.PDFPath, core.SignedURLOptions{Expiry: expiry})
}
