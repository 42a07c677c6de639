package secrets

import (
	"context"
	"testing"

	"github.com/dmitrijs2005/taskvault/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvStore_GetEnvSecret(t *testing.T) {
	t.Setenv("PROJECT_KEY_abc", "s3cret")
	t.Setenv("PROJECT_KEY_empty", "")

	s := NewEnvStore()
	ctx := context.Background()

	v, err := s.GetEnvSecret(ctx, "PROJECT_KEY_", "abc")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", v)

	_, err = s.GetEnvSecret(ctx, "PROJECT_KEY_", "missing")
	assert.ErrorIs(t, err, common.ErrorNotConfigured)

	_, err = s.GetEnvSecret(ctx, "PROJECT_KEY_", "empty")
	assert.ErrorIs(t, err, common.ErrorNotConfigured)

	_, err = s.GetEnvSecret(ctx, "PROJECT_KEY_", "")
	assert.ErrorIs(t, err, common.ErrorNotConfigured)
}

func TestMapStore(t *testing.T) {
	s := NewMapStore(map[string]string{"P_1": "one"})

	v, err := s.GetEnvSecret(context.Background(), "P_", "1")
	require.NoError(t, err)
	assert.Equal(t, "one", v)
}
