// Package sshmgr implements the SSH connection pool, host-key verification,
// exec/exec_detached/exec_follow, job polling, SFTP upload/download,
// deploy_file, and authorized_keys management.
package sshmgr

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/sentryfrogg/sentryfrogg-mcp/internal/errs"
)

// ConnectionSpec describes how to reach and authenticate to a host,
// sourced from an ssh-type profile or an inline connection object.
type ConnectionSpec struct {
	ProfileName             string
	Host                    string
	Port                    int
	User                    string
	Password                string
	PrivateKeyPEM           string
	PrivateKeyPassphrase    string
	UseAgent                bool
	HostKeyPolicy           HostKeyMode
	HostKeyFingerprintSHA256 string
	ConnectTimeout          time.Duration
}

func (c ConnectionSpec) addr() string {
	port := c.Port
	if port == 0 {
		port = 22
	}
	return fmt.Sprintf("%s:%d", c.Host, port)
}

// FingerprintPersister persists a TOFU-discovered fingerprint back into the
// owning profile's data, exactly once.
type FingerprintPersister interface {
	PersistFingerprint(profileName, field, value string) error
}

type poolEntry struct {
	client *ssh.Client
	busy   sync.Mutex
	closed bool
}

// Pool manages one lazily-created *ssh.Client per profile name, serializing
// concurrent users of the same client via a per-entry busy gate. Anonymous
// (profile-less) connections are not pooled.
type Pool struct {
	mu         sync.Mutex
	entries    map[string]*poolEntry
	inflight   map[string]chan struct{}
	persister  FingerprintPersister
}

func NewPool(persister FingerprintPersister) *Pool {
	return &Pool{
		entries:   map[string]*poolEntry{},
		inflight:  map[string]chan struct{}{},
		persister: persister,
	}
}

// acquire returns the pooled client for spec (materializing it lazily,
// sharing in-flight creation across concurrent callers) and locks its busy
// gate. Callers must call release when done.
func (p *Pool) acquire(spec ConnectionSpec) (*poolEntry, error) {
	key := spec.ProfileName
	if key == "" {
		// Anonymous connection: never pooled, always a fresh client.
		client, err := dial(spec, p.persister)
		if err != nil {
			return nil, err
		}
		e := &poolEntry{client: client}
		e.busy.Lock()
		return e, nil
	}

	for {
		p.mu.Lock()
		if e, ok := p.entries[key]; ok && !e.closed {
			p.mu.Unlock()
			e.busy.Lock()
			return e, nil
		}
		if ch, inflight := p.inflight[key]; inflight {
			p.mu.Unlock()
			<-ch
			continue
		}
		ch := make(chan struct{})
		p.inflight[key] = ch
		p.mu.Unlock()

		client, err := dial(spec, p.persister)

		p.mu.Lock()
		delete(p.inflight, key)
		close(ch)
		if err != nil {
			p.mu.Unlock()
			return nil, err
		}
		e := &poolEntry{client: client}
		p.entries[key] = e
		p.mu.Unlock()
		e.busy.Lock()
		return e, nil
	}
}

func (p *Pool) release(spec ConnectionSpec, e *poolEntry) {
	e.busy.Unlock()
	if spec.ProfileName == "" {
		e.client.Close()
	}
}

// evict closes and removes the pooled entry for spec, used by the
// "channel open failure" retry discipline.
func (p *Pool) evict(spec ConnectionSpec, e *poolEntry) {
	e.client.Close()
	if spec.ProfileName == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.entries[spec.ProfileName]; ok && cur == e {
		cur.closed = true
		delete(p.entries, spec.ProfileName)
	}
}

// Close evicts and closes every pooled connection.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, e := range p.entries {
		e.client.Close()
		delete(p.entries, key)
	}
}

func dial(spec ConnectionSpec, persister FingerprintPersister) (*ssh.Client, error) {
	var auths []ssh.AuthMethod
	if spec.PrivateKeyPEM != "" {
		signer, err := parsePrivateKey(spec.PrivateKeyPEM, spec.PrivateKeyPassphrase)
		if err != nil {
			return nil, errs.InvalidParams("SSH_INVALID_PRIVATE_KEY", err.Error())
		}
		auths = append(auths, ssh.PublicKeys(signer))
	}
	if spec.UseAgent {
		if signers, err := agentSigners(); err == nil && len(signers) > 0 {
			auths = append(auths, ssh.PublicKeysCallback(func() ([]ssh.Signer, error) { return signers, nil }))
		}
	}
	if spec.Password != "" {
		auths = append(auths, ssh.Password(spec.Password))
	}
	if len(auths) == 0 {
		return nil, errs.InvalidParams("SSH_NO_AUTH_METHOD", "connection spec provides no password, private key, or agent auth")
	}

	mode := spec.HostKeyPolicy
	if mode == "" {
		mode = HostKeyTOFU
	}
	var onTOFU func(string)
	if mode == HostKeyTOFU && spec.HostKeyFingerprintSHA256 == "" && persister != nil && spec.ProfileName != "" {
		onTOFU = func(fp string) {
			persister.PersistFingerprint(spec.ProfileName, "host_key_fingerprint_sha256", fp)
		}
	}
	hostKeyCb, err := hostKeyCallback(mode, spec.HostKeyFingerprintSHA256, onTOFU)
	if err != nil {
		return nil, err
	}

	timeout := spec.ConnectTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	cfg := &ssh.ClientConfig{
		User:            spec.User,
		Auth:            auths,
		HostKeyCallback: hostKeyCb,
		Timeout:         timeout,
	}
	client, err := ssh.Dial("tcp", spec.addr(), cfg)
	if err != nil {
		return nil, errs.Wrap(errs.KindRetryable, "SSH_DIAL_FAILED", fmt.Sprintf("failed to connect to %s", spec.addr()), err)
	}
	return client, nil
}

func parsePrivateKey(pemData, passphrase string) (ssh.Signer, error) {
	if passphrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase([]byte(pemData), []byte(passphrase))
	}
	return ssh.ParsePrivateKey([]byte(pemData))
}

func agentSigners() ([]ssh.Signer, error) {
	sock, err := agentSocket()
	if err != nil {
		return nil, err
	}
	defer sock.Close()
	return agent.NewClient(sock).Signers()
}

func agentSocket() (net.Conn, error) {
	path := os.Getenv("SSH_AUTH_SOCK")
	if path == "" {
		return nil, fmt.Errorf("sshmgr: SSH_AUTH_SOCK is not set")
	}
	return net.Dial("unix", path)
}
