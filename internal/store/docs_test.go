package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger/internal/config"
	"ledger/internal/docstore"
)

func TestOpenDocStore(t *testing.T) {
	s, err := OpenDocStore(context.Background(), config.App{StoreBackend: BackendMemory})
	require.NoError(t, err)
	assert.IsType(t, &docstore.Memory{}, s)
	assert.NoError(t, s.Ping(context.Background()))

	_, err = OpenDocStore(context.Background(), config.App{StoreBackend: "cassandra"})
	assert.ErrorContains(t, err, "cassandra")
}

func TestRedisHealthyNil(t *testing.T) {
	var r *Redis
	assert.False(t, r.Healthy(context.Background()))
}
