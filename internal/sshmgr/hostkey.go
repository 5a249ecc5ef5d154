package sshmgr

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net"

	"golang.org/x/crypto/ssh"

	"github.com/sentryfrogg/sentryfrogg-mcp/internal/errs"
)

// HostKeyMode selects how a connection verifies the remote host key.
type HostKeyMode string

const (
	HostKeyAccept HostKeyMode = "accept"
	HostKeyTOFU   HostKeyMode = "tofu"
	HostKeyPin    HostKeyMode = "pin"
)

// Fingerprint renders a host key as SHA256:<base64-no-padding of sha256(rawKey)>.
func Fingerprint(key ssh.PublicKey) string {
	sum := sha256.Sum256(key.Marshal())
	return "SHA256:" + base64.RawStdEncoding.EncodeToString(sum[:])
}

// hostKeyCallback builds an ssh.HostKeyCallback per mode. onTOFU is invoked
// exactly once, after a successful first-contact verification under tofu
// mode, with the fingerprint to persist.
func hostKeyCallback(mode HostKeyMode, pinnedFingerprint string, onTOFU func(fingerprint string)) (ssh.HostKeyCallback, error) {
	switch mode {
	case HostKeyAccept, "":
		return ssh.InsecureIgnoreHostKey(), nil
	case HostKeyPin:
		if pinnedFingerprint == "" {
			return nil, errs.InvalidParams("SSH_PIN_FINGERPRINT_REQUIRED", "host_key_policy \"pin\" requires host_key_fingerprint_sha256")
		}
		return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			got := Fingerprint(key)
			if got != pinnedFingerprint {
				return fmt.Errorf("sshmgr: host key fingerprint mismatch: got %s, want %s", got, pinnedFingerprint)
			}
			return nil
		}, nil
	case HostKeyTOFU:
		if pinnedFingerprint != "" {
			return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
				got := Fingerprint(key)
				if got != pinnedFingerprint {
					return fmt.Errorf("sshmgr: host key fingerprint mismatch: got %s, want %s", got, pinnedFingerprint)
				}
				return nil
			}, nil
		}
		fired := false
		return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			if !fired {
				fired = true
				if onTOFU != nil {
					onTOFU(Fingerprint(key))
				}
			}
			return nil
		}, nil
	default:
		return nil, errs.InvalidParams("SSH_UNKNOWN_HOST_KEY_POLICY", fmt.Sprintf("unknown host_key_policy %q", mode))
	}
}
