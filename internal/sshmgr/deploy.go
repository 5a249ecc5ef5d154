package sshmgr

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sentryfrogg/sentryfrogg-mcp/internal/errs"
)

// remoteHashScript tries sha256sum, then shasum -a 256, then openssl dgst,
// stopping at the first tool that succeeds.
func remoteHashScript(remotePath string) string {
	q := quotePosix(remotePath)
	return fmt.Sprintf(`
if command -v sha256sum >/dev/null 2>&1; then
  sha256sum %s | awk '{print $1}'
elif command -v shasum >/dev/null 2>&1; then
  shasum -a 256 %s | awk '{print $1}'
elif command -v openssl >/dev/null 2>&1; then
  openssl dgst -sha256 %s | awk '{print $NF}'
else
  echo "__SF_NO_HASH_TOOL__"
fi
`, q, q, q)
}

// DeployFileRequest uploads a file and verifies it landed intact, optionally
// restarting a service afterward.
type DeployFileRequest struct {
	Connection     ConnectionSpec
	LocalPath      string
	RemotePath     string
	EnsureRemoteDir bool
	Restart        string
	RestartCommand string
}

// DeployFileResult is the deploy_file tool's wire result.
type DeployFileResult struct {
	Success        bool   `json:"success"`
	RemotePath     string `json:"remote_path"`
	LocalSHA256    string `json:"local_sha256"`
	RemoteSHA256   string `json:"remote_sha256,omitempty"`
	Restarted      bool   `json:"restarted"`
	RestartOutput  string `json:"restart_output,omitempty"`
	FailureCode    string `json:"failure_code,omitempty"`
}

func localSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DeployFile uploads localPath to remotePath, verifies the remote hash
// against the local one, and optionally restarts a service.
func (m *Manager) DeployFile(ctx context.Context, req DeployFileRequest) (*DeployFileResult, error) {
	if req.Restart != "" && req.RestartCommand != "" {
		return nil, errs.InvalidParams(errs.CodeInvalidRestart, "restart and restart_command are mutually exclusive")
	}

	localSum, err := localSHA256(req.LocalPath)
	if err != nil {
		return nil, errs.InvalidParams("SSH_DEPLOY_LOCAL_READ_FAILED", err.Error())
	}

	result := &DeployFileResult{RemotePath: req.RemotePath, LocalSHA256: localSum}

	if uploadErr := m.SFTPUpload(ctx, SFTPUploadRequest{
		Connection:      req.Connection,
		LocalPath:       req.LocalPath,
		RemotePath:      req.RemotePath,
		Overwrite:       true,
		EnsureRemoteDir: req.EnsureRemoteDir,
	}); uploadErr != nil {
		result.FailureCode = errs.CodeUploadFailed
		return result, errs.Wrap(errs.KindRetryable, errs.CodeUploadFailed, "deploy upload failed", uploadErr)
	}

	hashResult, _, err := m.Exec(ctx, ExecRequest{
		Connection: req.Connection,
		Command:    remoteHashScript(req.RemotePath),
		TimeoutMs:  30_000,
		Budget:     m.defaultBudget(),
	})
	if err != nil {
		result.FailureCode = errs.CodeRemoteHashFailed
		return result, errs.Wrap(errs.KindRetryable, errs.CodeRemoteHashFailed, "remote hash computation failed", err)
	}
	remoteSum := strings.TrimSpace(hashResult.Stdout)
	if remoteSum == "" || remoteSum == "__SF_NO_HASH_TOOL__" {
		result.FailureCode = errs.CodeRemoteHashFailed
		return result, errs.New(errs.KindInternal, errs.CodeRemoteHashFailed, "no hashing tool available on the remote host")
	}
	result.RemoteSHA256 = remoteSum

	if !strings.EqualFold(remoteSum, localSum) {
		result.FailureCode = errs.CodeHashMismatch
		return result, errs.New(errs.KindConflict, errs.CodeHashMismatch, fmt.Sprintf("remote sha256 %s does not match local sha256 %s", remoteSum, localSum))
	}

	if req.Restart != "" || req.RestartCommand != "" {
		restartCmd := req.RestartCommand
		if restartCmd == "" {
			restartCmd = fmt.Sprintf("systemctl restart %s", quotePosix(req.Restart))
		}
		restartResult, _, restartErr := m.Exec(ctx, ExecRequest{
			Connection: req.Connection,
			Command:    restartCmd,
			TimeoutMs:  30_000,
			Budget:     m.defaultBudget(),
		})
		if restartErr != nil || !restartResult.Success {
			result.FailureCode = errs.CodeRestartFailed
			if restartResult != nil {
				result.RestartOutput = restartResult.Stderr
			}
			if restartErr != nil {
				return result, errs.Wrap(errs.KindRetryable, errs.CodeRestartFailed, "restart command failed", restartErr)
			}
			return result, errs.New(errs.KindRetryable, errs.CodeRestartFailed, "restart command exited non-zero").WithRetryable(true)
		}
		result.Restarted = true
		result.RestartOutput = restartResult.Stdout
	}

	result.Success = true
	return result, nil
}
