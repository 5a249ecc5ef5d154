package sshmgr

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/sftp"

	"github.com/sentryfrogg/sentryfrogg-mcp/internal/errs"
)

func randomSuffix() string {
	buf := make([]byte, 4)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}

func isSFTPNotExist(err error) bool {
	if err == nil {
		return false
	}
	if os.IsNotExist(err) {
		return true
	}
	return strings.Contains(err.Error(), "not exist") || strings.Contains(err.Error(), "no such file")
}

func (m *Manager) withSFTPClient(conn ConnectionSpec, fn func(*sftp.Client) error) error {
	entry, err := m.pool.acquire(conn)
	if err != nil {
		return err
	}
	defer m.pool.release(conn, entry)

	client, err := sftp.NewClient(entry.client)
	if err != nil {
		return errs.Wrap(errs.KindRetryable, "SFTP_SESSION_FAILED", "failed to open SFTP session", err)
	}
	defer client.Close()
	return fn(client)
}

// SFTPExists stats remotePath; a missing file reports exists=false rather
// than an error.
func (m *Manager) SFTPExists(ctx context.Context, conn ConnectionSpec, remotePath string) (bool, error) {
	var exists bool
	err := m.withSFTPClient(conn, func(c *sftp.Client) error {
		_, statErr := c.Stat(remotePath)
		if statErr != nil {
			if isSFTPNotExist(statErr) {
				exists = false
				return nil
			}
			return errs.Wrap(errs.KindRetryable, "SFTP_STAT_FAILED", "failed to stat remote path", statErr)
		}
		exists = true
		return nil
	})
	return exists, err
}

// SFTPUploadRequest uploads a local file to a remote path.
type SFTPUploadRequest struct {
	Connection      ConnectionSpec
	LocalPath       string
	RemotePath      string
	Overwrite       bool
	EnsureRemoteDir bool
	Mtime           *time.Time
	Atime           *time.Time
}

func (m *Manager) SFTPUpload(ctx context.Context, req SFTPUploadRequest) error {
	return m.withSFTPClient(req.Connection, func(c *sftp.Client) error {
		if !req.Overwrite {
			if _, err := c.Stat(req.RemotePath); err == nil {
				return errs.Conflict("SFTP_TARGET_EXISTS", fmt.Sprintf("remote path %q already exists", req.RemotePath))
			}
		}
		if req.EnsureRemoteDir {
			dir := filepath.ToSlash(filepath.Dir(req.RemotePath))
			if err := c.MkdirAll(dir); err != nil && !strings.Contains(err.Error(), "already exists") {
				return errs.Wrap(errs.KindRetryable, "SFTP_MKDIR_FAILED", fmt.Sprintf("failed to create remote directory %q", dir), err)
			}
		}
		local, err := os.Open(req.LocalPath)
		if err != nil {
			return errs.InvalidParams("SFTP_LOCAL_OPEN_FAILED", err.Error())
		}
		defer local.Close()

		remote, err := c.Create(req.RemotePath)
		if err != nil {
			return errs.Wrap(errs.KindRetryable, "SFTP_CREATE_FAILED", fmt.Sprintf("failed to create remote file %q", req.RemotePath), err)
		}
		defer remote.Close()

		if _, err := io.Copy(remote, local); err != nil {
			return errs.Wrap(errs.KindRetryable, "SFTP_WRITE_FAILED", "failed to upload file contents", err)
		}
		if req.Mtime != nil || req.Atime != nil {
			atime, mtime := time.Now(), time.Now()
			if req.Atime != nil {
				atime = *req.Atime
			}
			if req.Mtime != nil {
				mtime = *req.Mtime
			}
			c.Chtimes(req.RemotePath, atime, mtime)
		}
		return nil
	})
}

// SFTPDownloadRequest downloads a remote file to a local path, atomically.
type SFTPDownloadRequest struct {
	Connection ConnectionSpec
	RemotePath string
	LocalPath  string
	Overwrite  bool
	Mtime      *time.Time
	Atime      *time.Time
}

// SFTPDownload downloads to a temp file and atomically renames into place,
// backing up and restoring an existing local file on failure.
func (m *Manager) SFTPDownload(ctx context.Context, req SFTPDownloadRequest) error {
	tmpPath := req.LocalPath + ".sentryfrogg.tmp-" + randomSuffix()

	err := m.withSFTPClient(req.Connection, func(c *sftp.Client) error {
		remote, openErr := c.Open(req.RemotePath)
		if openErr != nil {
			if isSFTPNotExist(openErr) {
				return errs.New(errs.KindNotFound, errs.CodeENOENT, fmt.Sprintf("remote path %q does not exist", req.RemotePath)).
					WithDetails(map[string]interface{}{"success": false, "code": errs.CodeENOENT})
			}
			return errs.Wrap(errs.KindRetryable, "SFTP_OPEN_FAILED", "failed to open remote file", openErr)
		}
		defer remote.Close()

		local, createErr := os.Create(tmpPath)
		if createErr != nil {
			return errs.Internal(fmt.Errorf("sshmgr: create temp: %w", createErr))
		}
		if _, copyErr := io.Copy(local, remote); copyErr != nil {
			local.Close()
			os.Remove(tmpPath)
			return errs.Wrap(errs.KindRetryable, "SFTP_READ_FAILED", "failed to download file contents", copyErr)
		}
		local.Close()

		if req.Mtime != nil || req.Atime != nil {
			atime, mtime := time.Now(), time.Now()
			if req.Atime != nil {
				atime = *req.Atime
			}
			if req.Mtime != nil {
				mtime = *req.Mtime
			}
			os.Chtimes(tmpPath, atime, mtime)
		}
		return nil
	})
	if err != nil {
		os.Remove(tmpPath)
		return err
	}

	if _, statErr := os.Stat(req.LocalPath); statErr == nil {
		if !req.Overwrite {
			os.Remove(tmpPath)
			return errs.Conflict("SFTP_LOCAL_TARGET_EXISTS", fmt.Sprintf("local path %q already exists", req.LocalPath))
		}
		backup := req.LocalPath + ".sentryfrogg.bak-" + randomSuffix()
		if renameErr := os.Rename(req.LocalPath, backup); renameErr != nil {
			os.Remove(tmpPath)
			return errs.Internal(fmt.Errorf("sshmgr: backup existing local file: %w", renameErr))
		}
		if renameErr := os.Rename(tmpPath, req.LocalPath); renameErr != nil {
			os.Rename(backup, req.LocalPath)
			return errs.Internal(fmt.Errorf("sshmgr: rename downloaded file: %w", renameErr))
		}
		os.Remove(backup)
		return nil
	}

	if renameErr := os.Rename(tmpPath, req.LocalPath); renameErr != nil {
		os.Remove(tmpPath)
		return errs.Internal(fmt.Errorf("sshmgr: rename downloaded file: %w", renameErr))
	}
	return nil
}
