package blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parcelflow/internal/blob/core"
	"parcelflow/internal/config"
)

func TestOpenDefaultsToWorkspaceFilesystem(t *testing.T) {
	store, err := Open(context.Background(), t.TempDir(), config.BlobSettings{})
	require.NoError(t, err)
	assert.Equal(t, core.DriverFilesystem, store.Driver())
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), t.TempDir(), config.BlobSettings{Driver: "ftp"})
	assert.Error(t, err)
}

func TestOpenS3RequiresBucket(t *testing.T) {
	_, err := Open(context.Background(), t.TempDir(), config.BlobSettings{Driver: "s3"})
	assert.Error(t, err)
}
