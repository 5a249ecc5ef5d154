// Package profiles implements the encrypted profile store: reusable named
// connection and credential records consumed by the rest of the broker
// through get/list/set/delete/has only.
package profiles

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/sentryfrogg/sentryfrogg-mcp/internal/errs"
)

// Type enumerates the supported profile kinds.
type Type string

const (
	TypeSSH      Type = "ssh"
	TypePostgres Type = "postgres"
	TypeAPI      Type = "api"
	TypeEnv      Type = "env"
	TypeVault    Type = "vault"
)

// Profile is the decrypted, in-memory view of a stored profile.
type Profile struct {
	Name    string                 `json:"name"`
	Type    Type                   `json:"type"`
	Data    map[string]interface{} `json:"data"`
	Secrets map[string]interface{} `json:"secrets"`
}

type diskRecord struct {
	Name          string                 `json:"name"`
	Type          Type                   `json:"type"`
	Data          map[string]interface{} `json:"data"`
	EncryptedBlob string                 `json:"encrypted_secrets"`
}

// Store owns the cipher key and the on-disk profile file; it is the only
// component permitted to mutate profiles.
type Store struct {
	mu     sync.RWMutex
	path   string
	cipher Cipher
	items  map[string]*Profile
}

// Open loads (or initializes) the profile store at path, using cipher to
// seal/unseal the secrets half of each record.
func Open(path string, cipher Cipher) (*Store, error) {
	s := &Store{path: path, cipher: cipher, items: map[string]*Profile{}}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("profiles: read store: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	var records []diskRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("profiles: decode store: %w", err)
	}
	for _, rec := range records {
		p := &Profile{Name: rec.Name, Type: rec.Type, Data: rec.Data, Secrets: map[string]interface{}{}}
		if rec.EncryptedBlob != "" {
			plain, err := s.cipher.DecryptString(rec.EncryptedBlob)
			if err != nil {
				return fmt.Errorf("profiles: decrypt secrets for %q: %w", rec.Name, err)
			}
			if err := json.Unmarshal([]byte(plain), &p.Secrets); err != nil {
				return fmt.Errorf("profiles: decode secrets for %q: %w", rec.Name, err)
			}
		}
		s.items[rec.Name] = p
	}
	return nil
}

func (s *Store) saveLocked() error {
	names := make([]string, 0, len(s.items))
	for n := range s.items {
		names = append(names, n)
	}
	sort.Strings(names)

	records := make([]diskRecord, 0, len(names))
	for _, n := range names {
		p := s.items[n]
		rec := diskRecord{Name: p.Name, Type: p.Type, Data: p.Data}
		if len(p.Secrets) > 0 {
			plain, err := json.Marshal(p.Secrets)
			if err != nil {
				return err
			}
			blob, err := s.cipher.EncryptString(string(plain))
			if err != nil {
				return fmt.Errorf("profiles: encrypt secrets for %q: %w", n, err)
			}
			rec.EncryptedBlob = blob
		}
		records = append(records, rec)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.path, data, 0o600)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

// Has reports whether name is a known profile.
func (s *Store) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.items[name]
	return ok
}

// Get returns a copy of the named profile. Secrets are included only when
// includeSecrets and breakGlass are both true.
func (s *Store) Get(name string, includeSecrets, breakGlass bool) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.items[name]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "PROFILE_NOT_FOUND", fmt.Sprintf("unknown profile %q", name))
	}
	return cloneProfile(p, includeSecrets && breakGlass), nil
}

// GetInternal returns the full profile including secrets, for internal
// consumers (ProjectResolver, SSHManager) that require decrypted
// credentials to perform their own I/O. It never crosses the envelope
// boundary.
func (s *Store) GetInternal(name string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.items[name]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "PROFILE_NOT_FOUND", fmt.Sprintf("unknown profile %q", name))
	}
	return cloneProfile(p, true), nil
}

// List returns every stored profile, names only unless includeSecrets is
// granted via a caller that also passes breakGlass.
func (s *Store) List(includeSecrets, breakGlass bool) []*Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.items))
	for n := range s.items {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]*Profile, 0, len(names))
	for _, n := range names {
		out = append(out, cloneProfile(s.items[n], includeSecrets && breakGlass))
	}
	return out
}

// Set creates or replaces a profile.
func (s *Store) Set(p *Profile) error {
	if p.Name == "" {
		return errs.InvalidParams("PROFILE_NAME_REQUIRED", "profile name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := cloneProfile(p, true)
	s.items[p.Name] = clone
	return s.saveLocked()
}

// Delete removes a profile by name.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[name]; !ok {
		return errs.New(errs.KindNotFound, "PROFILE_NOT_FOUND", fmt.Sprintf("unknown profile %q", name))
	}
	delete(s.items, name)
	return s.saveLocked()
}

// PersistFingerprint stores a discovered SSH host-key fingerprint into a
// profile's data map (trust-on-first-use persistence), without touching
// secrets.
func (s *Store) PersistFingerprint(name, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.items[name]
	if !ok {
		return errs.New(errs.KindNotFound, "PROFILE_NOT_FOUND", fmt.Sprintf("unknown profile %q", name))
	}
	if p.Data == nil {
		p.Data = map[string]interface{}{}
	}
	if _, already := p.Data[field]; already {
		return nil
	}
	p.Data[field] = value
	return s.saveLocked()
}

func cloneProfile(p *Profile, withSecrets bool) *Profile {
	out := &Profile{Name: p.Name, Type: p.Type, Data: map[string]interface{}{}, Secrets: map[string]interface{}{}}
	for k, v := range p.Data {
		out.Data[k] = v
	}
	if withSecrets {
		for k, v := range p.Secrets {
			out.Secrets[k] = v
		}
	}
	return out
}

// SecretStrings returns every secret value of length >= 6 as a string, for
// feeding the redactor's literal tracker.
func (p *Profile) SecretStrings() []string {
	var out []string
	collectSecretStrings(p.Secrets, &out)
	return out
}

func collectSecretStrings(v interface{}, out *[]string) {
	switch t := v.(type) {
	case string:
		if len(t) >= 6 {
			*out = append(*out, t)
		}
	case map[string]interface{}:
		for _, vv := range t {
			collectSecretStrings(vv, out)
		}
	case []interface{}:
		for _, vv := range t {
			collectSecretStrings(vv, out)
		}
	}
}
