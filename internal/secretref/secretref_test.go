package secretref

import (
	"context"
	"testing"

	"github.com/sentryfrogg/sentryfrogg-mcp/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubVault struct {
	values map[string]string
	err    error
}

func (s *stubVault) ReadField(_ context.Context, path, field string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.values[path+"#"+field], nil
}

func TestResolve_PassesThroughPlainStrings(t *testing.T) {
	r := New(nil)
	out, secrets, err := r.Resolve(context.Background(), "just a string")
	require.NoError(t, err)
	assert.Equal(t, "just a string", out)
	assert.Empty(t, secrets)
}

func TestResolve_EnvRefSubstitutesValue(t *testing.T) {
	t.Setenv("SOME_SECRET", "sup3r-secret-value")
	r := New(nil)
	out, secrets, err := r.Resolve(context.Background(), "ref:env:SOME_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "sup3r-secret-value", out)
	assert.Equal(t, []string{"sup3r-secret-value"}, secrets)
}

func TestResolve_EnvRefMissingVarErrors(t *testing.T) {
	r := New(nil)
	_, _, err := r.Resolve(context.Background(), "ref:env:DOES_NOT_EXIST_XYZ")
	require.Error(t, err)
	tagged, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, "SECRET_REF_ENV_MISSING", tagged.Code)
}

func TestResolve_EnvRefShortValueNotTrackedAsSecret(t *testing.T) {
	t.Setenv("SHORT_VAR", "ab")
	r := New(nil)
	_, secrets, err := r.Resolve(context.Background(), "ref:env:SHORT_VAR")
	require.NoError(t, err)
	assert.Empty(t, secrets)
}

func TestResolve_VaultRefWithoutVaultConfiguredErrors(t *testing.T) {
	r := New(nil)
	_, _, err := r.Resolve(context.Background(), "ref:vault:secret/data/db#password")
	require.Error(t, err)
	tagged, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, "SECRET_REF_VAULT_UNAVAILABLE", tagged.Code)
}

func TestResolve_VaultRefMalformedMissingFieldErrors(t *testing.T) {
	r := New(&stubVault{})
	_, _, err := r.Resolve(context.Background(), "ref:vault:secret/data/db")
	require.Error(t, err)
	tagged, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, "SECRET_REF_VAULT_MALFORMED", tagged.Code)
}

func TestResolve_VaultRefResolvesFieldAndTracksSecret(t *testing.T) {
	vault := &stubVault{values: map[string]string{"secret/data/db#password": "hunter222222"}}
	r := New(vault)
	out, secrets, err := r.Resolve(context.Background(), "ref:vault:secret/data/db#password")
	require.NoError(t, err)
	assert.Equal(t, "hunter222222", out)
	assert.Equal(t, []string{"hunter222222"}, secrets)
}

func TestResolve_VaultReadErrorWrapped(t *testing.T) {
	vault := &stubVault{err: assert.AnError}
	r := New(vault)
	_, _, err := r.Resolve(context.Background(), "ref:vault:secret/data/db#password")
	require.Error(t, err)
	tagged, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, "SECRET_REF_VAULT_FAILED", tagged.Code)
}

func TestResolve_WalksNestedMapsAndSlices(t *testing.T) {
	t.Setenv("NESTED_SECRET", "nested-secret-value")
	r := New(nil)
	value := map[string]interface{}{
		"a": []interface{}{"ref:env:NESTED_SECRET", "plain"},
		"b": map[string]interface{}{"c": "ref:env:NESTED_SECRET"},
	}
	out, secrets, err := r.Resolve(context.Background(), value)
	require.NoError(t, err)
	m := out.(map[string]interface{})
	assert.Equal(t, "nested-secret-value", m["a"].([]interface{})[0])
	assert.Equal(t, "plain", m["a"].([]interface{})[1])
	assert.Equal(t, "nested-secret-value", m["b"].(map[string]interface{})["c"])
	assert.Len(t, secrets, 2)
}

func TestResolve_NonStringScalarsPassThroughUnchanged(t *testing.T) {
	r := New(nil)
	out, secrets, err := r.Resolve(context.Background(), map[string]interface{}{"n": 5, "b": true, "nil": nil})
	require.NoError(t, err)
	m := out.(map[string]interface{})
	assert.Equal(t, 5, m["n"])
	assert.Equal(t, true, m["b"])
	assert.Nil(t, m["nil"])
	assert.Empty(t, secrets)
}
