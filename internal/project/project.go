// Package project implements ProjectResolver: resolution of a
// (project, target) pair to its TargetBinding, including auto-pick when
// cardinality is exactly one and synonym handling for the target field.
package project

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/sentryfrogg/sentryfrogg-mcp/internal/errs"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/policy"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/suggest"
)

// TargetSynonyms lists the argument keys that name a target, in priority
// order.
var TargetSynonyms = []string{"target", "project_target", "environment"}

// TargetBinding names the profile to use per manager for one target, plus
// an optional working directory and policy.
type TargetBinding struct {
	SSHProfile      string                 `json:"ssh_profile,omitempty"`
	PostgresProfile string                 `json:"postgres_profile,omitempty"`
	APIProfile      string                 `json:"api_profile,omitempty"`
	VaultProfile    string                 `json:"vault_profile,omitempty"`
	Cwd             string                 `json:"cwd,omitempty"`
	Policy          map[string]interface{} `json:"policy,omitempty"`
	PolicyName      string                 `json:"policy_name,omitempty"`
}

// Project bundles named targets and optional named policy profiles.
type Project struct {
	Name          string                   `json:"name"`
	DefaultTarget string                   `json:"default_target,omitempty"`
	Targets       map[string]TargetBinding `json:"targets"`
	PolicyProfiles map[string]map[string]interface{} `json:"policy_profiles,omitempty"`
}

// Store is the in-memory, file-backed set of known projects.
type Store struct {
	path     string
	projects map[string]*Project
}

func Open(path string) (*Store, error) {
	s := &Store{path: path, projects: map[string]*Project{}}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("project: read store: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}
	var list []*Project
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("project: decode store: %w", err)
	}
	for _, p := range list {
		s.projects[p.Name] = p
	}
	return s, nil
}

func (s *Store) Get(name string) (*Project, bool) {
	p, ok := s.projects[name]
	return p, ok
}

func (s *Store) Names() []string {
	out := make([]string, 0, len(s.projects))
	for n := range s.projects {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Resolved is the outcome of resolving (project, target).
type Resolved struct {
	ProjectName string
	TargetName  string
	Binding     TargetBinding
	Policy      *policy.Policy
}

// ActiveProjectStateKey is the StateStore session key holding the caller's
// last-selected project name.
const ActiveProjectStateKey = "active_project"

// Resolve picks (projectName, targetName) from explicit args, falling back
// to the supplied active project name, then auto-picking when there is
// exactly one target. Ambiguity and unknown-target errors carry Suggester
// hints.
func (s *Store) Resolve(explicitProject, explicitTarget, activeProject string) (*Resolved, error) {
	projectName := explicitProject
	if projectName == "" {
		projectName = activeProject
	}
	if projectName == "" {
		if len(s.projects) == 1 {
			for n := range s.projects {
				projectName = n
			}
		}
	}
	if projectName == "" {
		return nil, errs.InvalidParams("PROJECT_REQUIRED", "no project specified and none is active").
			WithDetails(map[string]interface{}{"known_projects": s.Names()})
	}

	proj, ok := s.projects[projectName]
	if !ok {
		hints := suggest.Suggest(projectName, s.Names())
		return nil, errs.InvalidParams("PROJECT_UNKNOWN", fmt.Sprintf("unknown project %q", projectName)).
			WithDetails(map[string]interface{}{"did_you_mean": hints, "known_projects": s.Names()})
	}

	targetName := explicitTarget
	if targetName == "" {
		targetName = proj.DefaultTarget
	}
	targetNames := make([]string, 0, len(proj.Targets))
	for n := range proj.Targets {
		targetNames = append(targetNames, n)
	}
	sort.Strings(targetNames)

	if targetName == "" {
		if len(targetNames) == 1 {
			targetName = targetNames[0]
		} else {
			return nil, errs.InvalidParams("TARGET_AMBIGUOUS", fmt.Sprintf("project %q has %d targets; specify one", projectName, len(targetNames))).
				WithDetails(map[string]interface{}{"known_targets": targetNames})
		}
	}

	binding, ok := proj.Targets[targetName]
	if !ok {
		hints := suggest.Suggest(targetName, targetNames)
		return nil, errs.InvalidParams("TARGET_UNKNOWN", fmt.Sprintf("unknown target %q in project %q", targetName, projectName)).
			WithDetails(map[string]interface{}{"did_you_mean": hints, "known_targets": targetNames})
	}

	resolvedPolicy, err := s.resolvePolicy(proj, binding)
	if err != nil {
		return nil, err
	}

	return &Resolved{ProjectName: projectName, TargetName: targetName, Binding: binding, Policy: resolvedPolicy}, nil
}

func (s *Store) resolvePolicy(proj *Project, binding TargetBinding) (*policy.Policy, error) {
	if binding.Policy != nil {
		return policy.Normalize(binding.Policy)
	}
	if binding.PolicyName != "" {
		named, ok := proj.PolicyProfiles[binding.PolicyName]
		if !ok {
			return nil, errs.InvalidParams("POLICY_PROFILE_UNKNOWN", fmt.Sprintf("unknown policy profile %q", binding.PolicyName))
		}
		return policy.Normalize(named)
	}
	return nil, nil
}
