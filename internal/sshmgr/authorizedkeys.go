package sshmgr

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	"github.com/sentryfrogg/sentryfrogg-mcp/internal/errs"
)

var authorizedKeyLineRe = regexp.MustCompile(`^(\S+)\s+(\S+)(?:\s+(.*))?$`)

// AuthorizedKeysAddResult reports whether a key line was newly appended.
type AuthorizedKeysAddResult struct {
	Added       bool   `json:"added"`
	Fingerprint string `json:"fingerprint"`
}

func fingerprintOfBase64Blob(blob string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return "SHA256:" + base64.RawStdEncoding.EncodeToString(sum[:]), nil
}

// authorizedKeysAddScript idempotently appends a (type, blob) key line to
// ~/.ssh/authorized_keys, creating the directory/file with the correct
// permissions, distinguishing "added" from "already present" via an awk
// exact-match check. The key line is delivered over stdin.
const authorizedKeysAddScript = `
set -e
mkdir -p "$HOME/.ssh"
chmod 700 "$HOME/.ssh"
touch "$HOME/.ssh/authorized_keys"
chmod 600 "$HOME/.ssh/authorized_keys"
key_type="$1"
key_blob="$2"
line="$(cat)"
present=$(awk -v t="$key_type" -v b="$key_blob" '$1==t && $2==b {found=1} END {print found+0}' "$HOME/.ssh/authorized_keys")
if [ "$present" = "1" ]; then
  echo "__SF_AK_STATUS__=present"
else
  printf '%s\n' "$line" >> "$HOME/.ssh/authorized_keys"
  echo "__SF_AK_STATUS__=added"
fi
`

// AuthorizedKeysAdd accepts exactly one "<type> <base64> [comment]" key line
// and appends it to the remote authorized_keys file if not already present.
func (m *Manager) AuthorizedKeysAdd(ctx context.Context, conn ConnectionSpec, keyLine string) (*AuthorizedKeysAddResult, error) {
	trimmed := strings.TrimSpace(keyLine)
	parts := authorizedKeyLineRe.FindStringSubmatch(trimmed)
	if parts == nil {
		return nil, errs.InvalidParams("SSH_INVALID_KEY_LINE", "expected a single \"<type> <base64> [comment]\" key line")
	}
	keyType, keyBlob := parts[1], parts[2]

	fingerprint, err := fingerprintOfBase64Blob(keyBlob)
	if err != nil {
		return nil, errs.InvalidParams("SSH_INVALID_KEY_LINE", fmt.Sprintf("invalid base64 key material: %v", err))
	}

	script := fmt.Sprintf("sh -c %s -- %s %s", quotePosix(authorizedKeysAddScript), quotePosix(keyType), quotePosix(keyBlob))
	result, _, err := m.Exec(ctx, ExecRequest{
		Connection: conn,
		Command:    script,
		Stdin:      trimmed + "\n",
		TimeoutMs:  15_000,
		Budget:     m.defaultBudget(),
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindRetryable, errs.CodeSSHAuthKeysAddFailed, "authorized_keys_add failed", err)
	}
	if !result.Success {
		return nil, errs.New(errs.KindInternal, errs.CodeSSHAuthKeysAddFailed, strings.TrimSpace(result.Stderr))
	}

	added := strings.Contains(result.Stdout, "__SF_AK_STATUS__=added")
	return &AuthorizedKeysAddResult{Added: added, Fingerprint: fingerprint}, nil
}

// AuthorizedKeysEntry is one parsed line from authorized_keys.
type AuthorizedKeysEntry struct {
	Type        string `json:"type"`
	Fingerprint string `json:"fingerprint"`
	Comment     string `json:"comment,omitempty"`
}

// AuthorizedKeysList reads and parses the remote authorized_keys file.
func (m *Manager) AuthorizedKeysList(ctx context.Context, conn ConnectionSpec) ([]AuthorizedKeysEntry, error) {
	result, _, err := m.Exec(ctx, ExecRequest{
		Connection: conn,
		Command:    `cat "$HOME/.ssh/authorized_keys" 2>/dev/null || true`,
		TimeoutMs:  10_000,
		Budget:     m.defaultBudget(),
	})
	if err != nil {
		return nil, err
	}
	var entries []AuthorizedKeysEntry
	for _, line := range strings.Split(result.Stdout, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		parts := authorizedKeyLineRe.FindStringSubmatch(trimmed)
		if parts == nil {
			continue
		}
		fp, fpErr := fingerprintOfBase64Blob(parts[2])
		if fpErr != nil {
			continue
		}
		entries = append(entries, AuthorizedKeysEntry{Type: parts[1], Fingerprint: fp, Comment: parts[3]})
	}
	return entries, nil
}
