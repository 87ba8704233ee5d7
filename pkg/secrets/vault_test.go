package secrets

import (
	"context"
	"errors"
	"testing"

	"ai-baas/backend/pkg/logger"

	vault "github.com/hashicorp/vault/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKV struct {
	data  map[string]any
	err   error
	reads int
}

func (f *fakeKV) Get(context.Context, string) (*vault.KVSecret, error) {
	f.reads++
	if f.err != nil {
		return nil, f.err
	}
	return &vault.KVSecret{Data: f.data}, nil
}

func TestDisabledManagerReadsEnvironment(t *testing.T) {
	t.Setenv("LLM_API_KEY", "from-env")
	m, err := NewVaultManager(VaultConfig{Enabled: false}, logger.Discard())
	require.NoError(t, err)

	v, err := m.GetSecret(context.Background(), "llm_api_key")
	require.NoError(t, err)
	assert.Equal(t, "from-env", v)

	assert.Equal(t, "fallback", m.GetSecretWithDefault(context.Background(), "embedding-api-key", "fallback"))
}

func TestEnabledManagerRequiresAddressAndToken(t *testing.T) {
	_, err := NewVaultManager(VaultConfig{Enabled: true}, logger.Discard())
	assert.ErrorIs(t, err, ErrNoVaultAddress)

	_, err = NewVaultManager(VaultConfig{Enabled: true, Address: "http://127.0.0.1:8200"}, logger.Discard())
	assert.ErrorIs(t, err, ErrNoVaultToken)
}

func TestVaultLookupCachesAndFallsBack(t *testing.T) {
	t.Setenv("EMBEDDING_API_KEY", "env-embed")
	kv := &fakeKV{data: map[string]any{"llm_api_key": "vault-llm"}}
	m, err := NewVaultManager(VaultConfig{}, logger.Discard())
	require.NoError(t, err)
	m.kv = kv

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		v, err := m.GetSecret(ctx, "llm_api_key")
		require.NoError(t, err)
		assert.Equal(t, "vault-llm", v)
	}
	assert.Equal(t, 1, kv.reads)

	v, err := m.GetSecret(ctx, "embedding_api_key")
	require.NoError(t, err)
	assert.Equal(t, "env-embed", v)

	_, err = m.GetSecret(ctx, "missing")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestVaultErrorsAreNotMaskedAsMissing(t *testing.T) {
	m, err := NewVaultManager(VaultConfig{}, logger.Discard())
	require.NoError(t, err)
	m.kv = &fakeKV{err: errors.New("permission denied")}

	_, err = m.GetSecret(context.Background(), "llm_api_key")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSecretNotFound)
	assert.Equal(t, "d", m.GetSecretWithDefault(context.Background(), "llm_api_key", "d"))
}
