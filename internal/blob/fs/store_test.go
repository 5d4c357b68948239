package fs

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parcelflow/internal/blob/core"
)

func TestPutGetHeadDelete(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	payload := []byte("%PDF-1.3 certificate")

	info, err := s.Put(ctx, "documents/demarcation/DEM-CERT-2024-000001.pdf", bytes.NewReader(payload), core.PutOptions{
		ContentType: "application/pdf",
		Metadata:    map[string]string{"case_id": "c-1"},
	})
	require.NoError(t, err)
	sum := sha256.Sum256(payload)
	assert.Equal(t, hex.EncodeToString(sum[:]), info.ETag)
	assert.EqualValues(t, len(payload), info.Size)

	_, err = s.Put(ctx, "documents/demarcation/DEM-CERT-2024-000001.pdf", bytes.NewReader(payload), core.PutOptions{})
	assert.True(t, errors.Is(err, core.ErrExists))

	got, rc, err := s.Get(ctx, "documents/demarcation/DEM-CERT-2024-000001.pdf")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	assert.Equal(t, "application/pdf", got.ContentType)
	assert.Equal(t, "c-1", got.Metadata["case_id"])

	head, err := s.Head(ctx, "documents/demarcation/DEM-CERT-2024-000001.pdf")
	require.NoError(t, err)
	assert.Equal(t, info.ETag, head.ETag)

	deleted, err := s.Delete(ctx, "documents/demarcation/DEM-CERT-2024-000001.pdf")
	require.NoError(t, err)
	assert.True(t, deleted)
	_, _, err = s.Get(ctx, "documents/demarcation/DEM-CERT-2024-000001.pdf")
	assert.True(t, errors.Is(err, core.ErrNotFound))
}

func TestSanitizeKeyRejectsTraversal(t *testing.T) {
	for _, key := range []string{"", "../escape", "/abs/path", "a/../../b"} {
		_, err := sanitizeKey(key)
		assert.Error(t, err, key)
	}
	k, err := sanitizeKey("documents//dpc/x.pdf")
	require.NoError(t, err)
	assert.Equal(t, "documents/dpc/x.pdf", k)
}

func TestPresignUnsupported(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	_, err = s.PresignURL(context.Background(), "k", core.SignedURLOptions{})
	assert.True(t, errors.Is(err, core.ErrUnsupported))
}
