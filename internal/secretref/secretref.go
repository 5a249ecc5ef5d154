// Package secretref resolves ref:env:* and ref:vault:*#field tokens found
// anywhere inside request argument values, replacing them with the
// referenced secret before the request reaches a manager.
package secretref

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sentryfrogg/sentryfrogg-mcp/internal/errs"
)

const (
	envPrefix   = "ref:env:"
	vaultPrefix = "ref:vault:"
)

// VaultReader reads a single field from a vault secret path. Implemented by
// internal/external.VaultClient.
type VaultReader interface {
	ReadField(ctx context.Context, path, field string) (string, error)
}

// Resolver walks values replacing ref: tokens.
type Resolver struct {
	Vault VaultReader
}

func New(vault VaultReader) *Resolver {
	return &Resolver{Vault: vault}
}

// Resolve deep-walks value, replacing every ref:env:/ref:vault: string it
// finds, and returns the resolved clone plus the set of secret values it
// materialized (for redactor tracking).
func (r *Resolver) Resolve(ctx context.Context, value interface{}) (interface{}, []string, error) {
	var secrets []string
	out, err := r.walk(ctx, value, &secrets)
	if err != nil {
		return nil, nil, err
	}
	return out, secrets, nil
}

func (r *Resolver) walk(ctx context.Context, value interface{}, secrets *[]string) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return r.resolveString(ctx, v, secrets)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, vv := range v {
			resolved, err := r.walk(ctx, vv, secrets)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, vv := range v {
			resolved, err := r.walk(ctx, vv, secrets)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return value, nil
	}
}

func (r *Resolver) resolveString(ctx context.Context, s string, secrets *[]string) (interface{}, error) {
	switch {
	case strings.HasPrefix(s, envPrefix):
		name := strings.TrimPrefix(s, envPrefix)
		val, ok := os.LookupEnv(name)
		if !ok {
			return nil, errs.InvalidParams("SECRET_REF_ENV_MISSING", fmt.Sprintf("environment variable %q is not set", name))
		}
		if len(val) >= 6 {
			*secrets = append(*secrets, val)
		}
		return val, nil
	case strings.HasPrefix(s, vaultPrefix):
		if r.Vault == nil {
			return nil, errs.InvalidParams("SECRET_REF_VAULT_UNAVAILABLE", "no vault profile configured for ref:vault: resolution")
		}
		rest := strings.TrimPrefix(s, vaultPrefix)
		path, field, ok := strings.Cut(rest, "#")
		if !ok || path == "" || field == "" {
			return nil, errs.InvalidParams("SECRET_REF_VAULT_MALFORMED", "ref:vault: tokens require path#field")
		}
		val, err := r.Vault.ReadField(ctx, path, field)
		if err != nil {
			return nil, errs.Wrap(errs.KindInvalidParams, "SECRET_REF_VAULT_FAILED", "vault read failed", err)
		}
		if len(val) >= 6 {
			*secrets = append(*secrets, val)
		}
		return val, nil
	default:
		return s, nil
	}
}
