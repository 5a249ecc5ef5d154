package external

import (
	"context"
	"fmt"

	vaultapi "github.com/hashicorp/vault/api"

	"github.com/sentryfrogg/sentryfrogg-mcp/internal/config"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/errs"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/profiles"
)

// VaultClient reads secret fields from a HashiCorp Vault KV mount. It
// satisfies secretref.VaultReader so `ref:vault:path#field` tokens resolve
// through the same client used by the mcp_vault_manager tool.
type VaultClient struct {
	client *vaultapi.Client
}

// NewVaultClient builds a client from the standard VAULT_ADDR/VAULT_TOKEN
// (and friends) environment variables via the library's own DefaultConfig.
func NewVaultClient() (*VaultClient, error) {
	cfg := vaultapi.DefaultConfig()
	if err := cfg.ReadEnvironment(); err != nil {
		return nil, fmt.Errorf("read vault environment: %w", err)
	}
	client, err := vaultapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("new vault client: %w", err)
	}
	return &VaultClient{client: client}, nil
}

// ReadField reads path and extracts field from its data map.
func (v *VaultClient) ReadField(ctx context.Context, path, field string) (string, error) {
	secret, err := v.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return "", errs.New(errs.KindRetryable, "VAULT_READ_FAILED", err.Error())
	}
	if secret == nil || secret.Data == nil {
		return "", errs.New(errs.KindNotFound, errs.CodeENOENT, fmt.Sprintf("vault path %q not found", path))
	}

	data := secret.Data
	// KV v2 nests the actual fields under "data".
	if nested, ok := data["data"].(map[string]interface{}); ok {
		data = nested
	}

	value, ok := data[field]
	if !ok {
		return "", errs.New(errs.KindNotFound, errs.CodeENOENT, fmt.Sprintf("vault path %q has no field %q", path, field))
	}
	s, ok := value.(string)
	if !ok {
		return "", errs.InvalidParams("VAULT_FIELD_NOT_STRING", fmt.Sprintf("vault field %q at %q is not a string", field, path))
	}
	return s, nil
}

// VaultDispatcher adapts VaultClient into executor.Dispatcher for the
// mcp_vault_manager tool's explicit `read` action. A raw vault value only
// ever leaves the process when AllowExport is set, mirroring the
// profile secret export gate.
type VaultDispatcher struct {
	Client      *VaultClient
	Profiles    *profiles.Store
	AllowExport bool
}

// NewVaultDispatcher wires a VaultDispatcher's export gate from the
// process config rather than leaving callers to copy the flag by hand.
func NewVaultDispatcher(client *VaultClient, store *profiles.Store, cfg *config.Config) *VaultDispatcher {
	d := &VaultDispatcher{Client: client, Profiles: store}
	if cfg != nil {
		d.AllowExport = cfg.AllowSecretExport
	}
	return d
}

func (d *VaultDispatcher) Dispatch(ctx context.Context, action, profileName string, args map[string]interface{}) (interface{}, error) {
	if action != "read" {
		return nil, errs.New(errs.KindInvalidParams, errs.CodeUnknownAction, fmt.Sprintf("unknown action %q for mcp_vault_manager", action))
	}
	if !d.AllowExport {
		return nil, errs.Denied(errs.CodeSecretExportDisabled, "raw secret export is disabled; set SENTRYFROGG_ALLOW_SECRET_EXPORT to enable mcp_vault_manager.read")
	}
	path, _ := args["path"].(string)
	if path == "" {
		return nil, errs.InvalidParams("VAULT_PATH_REQUIRED", "path is required")
	}
	field, _ := args["field"].(string)
	if field == "" {
		field = "value"
	}
	if d.Client == nil {
		return nil, errs.New(errs.KindInternal, "VAULT_NOT_CONFIGURED", "no vault client configured")
	}
	value, err := d.Client.ReadField(ctx, path, field)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"path": path, "field": field, "value": value}, nil
}
