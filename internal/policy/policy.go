// Package policy implements PolicyService: policy normalization, allow-list
// and change-window enforcement, and the re-entrant TTL lock used to
// serialize side-effecting operations per project/target or repo root.
package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/sentryfrogg/sentryfrogg-mcp/internal/errs"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/state"
)

// Window is a half-open time-of-day interval, optionally restricted to a
// subset of weekdays, always in UTC. start > end means the window crosses
// midnight.
type Window struct {
	Days  []time.Weekday `json:"days,omitempty"`
	Start string         `json:"start"`
	End   string         `json:"end"`
	TZ    string         `json:"tz,omitempty"`
}

// Allow configures the intent allow-list.
type Allow struct {
	Intents []string `json:"intents,omitempty"`
	Merge   bool     `json:"merge,omitempty"`
}

// RepoPolicy restricts which git remotes repo-exec may touch.
type RepoPolicy struct {
	AllowedRemotes []string `json:"allowed_remotes,omitempty"`
}

// KubernetesPolicy restricts which namespaces kubernetes-flavoured actions
// may target. No live cluster client is consulted; this is a string
// allow-list check only.
type KubernetesPolicy struct {
	AllowedNamespaces []string `json:"allowed_namespaces,omitempty"`
}

// LockPolicy configures the re-entrant lock.
type LockPolicy struct {
	Enabled bool  `json:"enabled"`
	TTLMs   int64 `json:"ttl_ms,omitempty"`
}

// Policy is the full normalized policy document attached to a project,
// target, or inline call.
type Policy struct {
	Mode          string           `json:"mode,omitempty"`
	Allow         Allow            `json:"allow,omitempty"`
	Repo          RepoPolicy       `json:"repo,omitempty"`
	Kubernetes    KubernetesPolicy `json:"kubernetes,omitempty"`
	ChangeWindows []Window         `json:"change_windows,omitempty"`
	ChangeWindowsSet bool          `json:"-"`
	Lock          LockPolicy       `json:"lock,omitempty"`
}

const (
	defaultLockTTL = 15 * time.Minute
	maxLockTTL     = 24 * time.Hour
)

// Normalize validates a raw decoded policy mapping and fills in defaults.
// It rejects structurally invalid shapes: arrays where objects are
// expected, non-UTC tz, non-integer minute fields, and non-positive TTLs.
func Normalize(raw map[string]interface{}) (*Policy, error) {
	p := &Policy{Lock: LockPolicy{Enabled: false, TTLMs: defaultLockTTL.Milliseconds()}}
	if raw == nil {
		return p, nil
	}

	if mode, ok := raw["mode"]; ok {
		s, ok := mode.(string)
		if !ok {
			return nil, errs.InvalidParams("POLICY_INVALID_MODE", "policy.mode must be a string")
		}
		p.Mode = s
	}

	if allowRaw, ok := raw["allow"]; ok {
		m, ok := allowRaw.(map[string]interface{})
		if !ok {
			return nil, errs.InvalidParams("POLICY_INVALID_ALLOW", "policy.allow must be an object")
		}
		p.Allow.Intents = toStringSlice(m["intents"])
		if merge, ok := m["merge"].(bool); ok {
			p.Allow.Merge = merge
		}
	}

	if repoRaw, ok := raw["repo"]; ok {
		m, ok := repoRaw.(map[string]interface{})
		if !ok {
			return nil, errs.InvalidParams("POLICY_INVALID_REPO", "policy.repo must be an object")
		}
		p.Repo.AllowedRemotes = toStringSlice(m["allowed_remotes"])
	}

	if k8sRaw, ok := raw["kubernetes"]; ok {
		m, ok := k8sRaw.(map[string]interface{})
		if !ok {
			return nil, errs.InvalidParams("POLICY_INVALID_KUBERNETES", "policy.kubernetes must be an object")
		}
		p.Kubernetes.AllowedNamespaces = toStringSlice(m["allowed_namespaces"])
	}

	if cwRaw, ok := raw["change_windows"]; ok {
		p.ChangeWindowsSet = true
		if cwRaw == nil {
			p.ChangeWindows = nil
		} else {
			arr, ok := cwRaw.([]interface{})
			if !ok {
				return nil, errs.InvalidParams("POLICY_INVALID_CHANGE_WINDOWS", "policy.change_windows must be an array")
			}
			windows := make([]Window, 0, len(arr))
			for _, elem := range arr {
				w, err := normalizeWindow(elem)
				if err != nil {
					return nil, err
				}
				windows = append(windows, w)
			}
			p.ChangeWindows = windows
		}
	}

	if lockRaw, ok := raw["lock"]; ok {
		m, ok := lockRaw.(map[string]interface{})
		if !ok {
			return nil, errs.InvalidParams("POLICY_INVALID_LOCK", "policy.lock must be an object")
		}
		if enabled, ok := m["enabled"].(bool); ok {
			p.Lock.Enabled = enabled
		}
		if ttlRaw, ok := m["ttl_ms"]; ok {
			ttl, ok := asInt64(ttlRaw)
			if !ok || ttl <= 0 {
				return nil, errs.InvalidParams("POLICY_INVALID_LOCK_TTL", "policy.lock.ttl_ms must be a positive integer")
			}
			if time.Duration(ttl)*time.Millisecond > maxLockTTL {
				return nil, errs.InvalidParams("POLICY_INVALID_LOCK_TTL", "policy.lock.ttl_ms must be <= 24h")
			}
			p.Lock.TTLMs = ttl
		}
	}

	return p, nil
}

func normalizeWindow(v interface{}) (Window, error) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return Window{}, errs.InvalidParams("POLICY_INVALID_WINDOW", "each change window must be an object")
	}
	w := Window{TZ: "UTC"}
	if tz, ok := m["tz"]; ok {
		s, ok := tz.(string)
		if !ok || s != "UTC" {
			return Window{}, errs.InvalidParams("POLICY_INVALID_WINDOW_TZ", "change window tz must be \"UTC\"")
		}
	}
	start, ok := m["start"].(string)
	if !ok {
		return Window{}, errs.InvalidParams("POLICY_INVALID_WINDOW", "change window requires start")
	}
	end, ok := m["end"].(string)
	if !ok {
		return Window{}, errs.InvalidParams("POLICY_INVALID_WINDOW", "change window requires end")
	}
	w.Start, w.End = start, end
	if daysRaw, ok := m["days"]; ok {
		arr, ok := daysRaw.([]interface{})
		if !ok {
			return Window{}, errs.InvalidParams("POLICY_INVALID_WINDOW_DAYS", "change window days must be an array")
		}
		for _, d := range arr {
			name, ok := d.(string)
			if !ok {
				return Window{}, errs.InvalidParams("POLICY_INVALID_WINDOW_DAYS", "change window day names must be strings")
			}
			wd, ok := weekdayFromName(name)
			if !ok {
				return Window{}, errs.InvalidParams("POLICY_INVALID_WINDOW_DAYS", fmt.Sprintf("unknown weekday %q", name))
			}
			w.Days = append(w.Days, wd)
		}
	}
	return w, nil
}

var weekdayNames = map[string]time.Weekday{
	"Sun": time.Sunday, "Mon": time.Monday, "Tue": time.Tuesday, "Wed": time.Wednesday,
	"Thu": time.Thursday, "Fri": time.Friday, "Sat": time.Saturday,
}

func weekdayFromName(s string) (time.Weekday, bool) {
	wd, ok := weekdayNames[s]
	return wd, ok
}

func toStringSlice(v interface{}) []string {
	arr, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	default:
		return 0, false
	}
}

// IsWithinWindowsUtc evaluates the P6 change-window semantics at instant
// now (which must be UTC): nil windows allow unconditionally; an empty
// slice denies unconditionally; otherwise at least one window must contain
// now, honoring cross-midnight wraparound.
func IsWithinWindowsUtc(windows []Window, windowsSet bool, now time.Time) bool {
	if !windowsSet || windows == nil {
		return true
	}
	if len(windows) == 0 {
		return false
	}
	now = now.UTC()
	for _, w := range windows {
		if withinWindow(w, now) {
			return true
		}
	}
	return false
}

func withinWindow(w Window, now time.Time) bool {
	start, sErr := parseClock(w.Start)
	end, eErr := parseClock(w.End)
	if sErr != nil || eErr != nil {
		return false
	}
	minuteOfDay := now.Hour()*60 + now.Minute()
	today := now.Weekday()

	crossesMidnight := start > end

	if !crossesMidnight {
		if !dayAllowed(w.Days, today) {
			return false
		}
		return minuteOfDay >= start && minuteOfDay < end
	}

	// Cross-midnight: the window is active either in the pre-midnight part
	// of `today` (today must be allowed) or the post-midnight part, where
	// membership is evaluated against the *previous* day.
	if dayAllowed(w.Days, today) && minuteOfDay >= start {
		return true
	}
	prevDay := (today + 6) % 7
	if dayAllowed(w.Days, prevDay) && minuteOfDay < end {
		return true
	}
	return false
}

func dayAllowed(days []time.Weekday, d time.Weekday) bool {
	if len(days) == 0 {
		return true
	}
	for _, allowed := range days {
		if allowed == d {
			return true
		}
	}
	return false
}

func parseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, err
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("policy: clock value out of range: %q", s)
	}
	return h*60 + m, nil
}

// LockValue is the persisted re-entrant lock record.
type LockValue struct {
	TraceID    string `json:"trace_id"`
	AcquiredAt int64  `json:"acquired_at"`
	UpdatedAt  int64  `json:"updated_at"`
	ExpiresAt  int64  `json:"expires_at"`
	TTLMs      int64  `json:"ttl_ms"`
	Count      int    `json:"count"`
}

// Service enforces policy and owns the lock table in StateStore.
type Service struct {
	state *state.Store
	clock func() time.Time
}

func NewService(st *state.Store) *Service {
	return &Service{state: st, clock: time.Now}
}

// LockKeyForTarget derives the lock key for a (project, target) pair.
func LockKeyForTarget(project, target string) string {
	return fmt.Sprintf("project:%s:%s", project, target)
}

// LockKeyForRepo derives the lock key for a repo root path.
func LockKeyForRepo(repoRoot string) string {
	sum := sha256.Sum256([]byte(repoRoot))
	return "repo:" + hex.EncodeToString(sum[:])[:16]
}

// Release is returned by Acquire; callers must invoke it exactly once,
// typically in a defer, regardless of the outcome of the guarded operation.
type Release func() error

// Acquire implements the re-entrant TTL lock algorithm (P5): same-trace
// acquisition increments count and refreshes expiry; a different trace
// holding an unexpired lock yields a retryable conflict; an absent or
// expired entry is replaced with a fresh count=1 record.
func (s *Service) Acquire(lockKey, traceID string, ttl time.Duration) (Release, error) {
	now := s.clock()
	ttlMs := ttl.Milliseconds()

	_, _, err := s.state.CompareAndSwap(state.ScopePersistent, lockKey, func(current interface{}, exists bool) (interface{}, bool, bool) {
		if exists {
			lv, ok := decodeLock(current)
			if ok && lv.ExpiresAt > now.UnixMilli() {
				if lv.TraceID == traceID {
					lv.Count++
					lv.UpdatedAt = now.UnixMilli()
					lv.ExpiresAt = now.Add(ttl).UnixMilli()
					return encodeLock(lv), false, true
				}
				return nil, false, false
			}
		}
		lv := LockValue{
			TraceID:    traceID,
			AcquiredAt: now.UnixMilli(),
			UpdatedAt:  now.UnixMilli(),
			ExpiresAt:  now.Add(ttl).UnixMilli(),
			TTLMs:      ttlMs,
			Count:      1,
		}
		return encodeLock(lv), false, true
	})
	if err != nil {
		return nil, errs.Internal(err)
	}

	acquired, _ := s.state.Get(state.ScopePersistent, lockKey)
	lv, ok := decodeLock(acquired)
	if !ok || lv.TraceID != traceID {
		return nil, errs.New(errs.KindConflict, "LOCK_HELD", fmt.Sprintf("lock %q is held by another trace", lockKey)).WithRetryable(true)
	}

	released := false
	release := func() error {
		if released {
			return nil
		}
		released = true
		_, _, err := s.state.CompareAndSwap(state.ScopePersistent, lockKey, func(current interface{}, exists bool) (interface{}, bool, bool) {
			if !exists {
				return nil, false, false
			}
			lv, ok := decodeLock(current)
			if !ok || lv.TraceID != traceID {
				return nil, false, false
			}
			if lv.Count > 1 {
				lv.Count--
				lv.UpdatedAt = s.clock().UnixMilli()
				return encodeLock(lv), false, true
			}
			return nil, true, true
		})
		return err
	}
	return release, nil
}

func encodeLock(lv LockValue) map[string]interface{} {
	return map[string]interface{}{
		"trace_id":    lv.TraceID,
		"acquired_at": lv.AcquiredAt,
		"updated_at":  lv.UpdatedAt,
		"expires_at":  lv.ExpiresAt,
		"ttl_ms":      lv.TTLMs,
		"count":       lv.Count,
	}
}

func decodeLock(v interface{}) (LockValue, bool) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return LockValue{}, false
	}
	get := func(k string) int64 {
		n, _ := asInt64(m[k])
		return n
	}
	traceID, _ := m["trace_id"].(string)
	return LockValue{
		TraceID:    traceID,
		AcquiredAt: get("acquired_at"),
		UpdatedAt:  get("updated_at"),
		ExpiresAt:  get("expires_at"),
		TTLMs:      get("ttl_ms"),
		Count:      int(get("count")),
	}, true
}

// Guard is the outcome of a per-intent policy check: the resolved policy,
// the lock key used (if any), and a release function the caller must
// invoke once the guarded operation completes.
type Guard struct {
	Policy  *Policy
	LockKey string
	Release Release
}

// noopRelease satisfies callers that never acquired a lock.
func noopRelease() error { return nil }

// Enforce runs the full step-9 policy guard for one intent: allow-list,
// change window, and (if enabled) lock acquisition. traceID scopes lock
// re-entrancy; lockKey is caller-supplied (LockKeyForTarget/LockKeyForRepo).
func (s *Service) Enforce(p *Policy, intent, remote, namespace, lockKey, traceID string) (*Guard, error) {
	if p == nil {
		return nil, errs.New(errs.KindDenied, errs.CodePolicyRequired, "no policy is configured for this target")
	}
	if p.Mode == "" {
		return nil, errs.New(errs.KindDenied, errs.CodePolicyModeRequired, "policy.mode must be set")
	}
	if len(p.Allow.Intents) > 0 && !containsStr(p.Allow.Intents, intent) {
		return nil, errs.New(errs.KindDenied, errs.CodePolicyDeniedIntent, fmt.Sprintf("intent %q is not allowed", intent))
	}
	if remote != "" && len(p.Repo.AllowedRemotes) > 0 && !containsStr(p.Repo.AllowedRemotes, remote) {
		return nil, errs.New(errs.KindDenied, errs.CodePolicyDeniedRemote, fmt.Sprintf("remote %q is not allowed", remote))
	}
	if namespace != "" && len(p.Kubernetes.AllowedNamespaces) > 0 && !containsStr(p.Kubernetes.AllowedNamespaces, namespace) {
		return nil, errs.New(errs.KindDenied, errs.CodePolicyDeniedNS, fmt.Sprintf("namespace %q is not allowed", namespace))
	}
	if !IsWithinWindowsUtc(p.ChangeWindows, p.ChangeWindowsSet, s.clock()) {
		return nil, errs.New(errs.KindDenied, errs.CodePolicyChangeWindow, "outside configured change window")
	}

	guard := &Guard{Policy: p, Release: noopRelease}
	if p.Lock.Enabled && lockKey != "" {
		ttl := time.Duration(p.Lock.TTLMs) * time.Millisecond
		if ttl <= 0 {
			ttl = defaultLockTTL
		}
		release, err := s.Acquire(lockKey, traceID, ttl)
		if err != nil {
			return nil, err
		}
		guard.LockKey = lockKey
		guard.Release = release
	}
	return guard, nil
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
