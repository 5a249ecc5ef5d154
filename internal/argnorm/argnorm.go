// Package argnorm canonicalizes known argument aliases per tool/action and
// reports renames and ignored duplicates, so callers can use whichever
// historical key name they already know.
package argnorm

// Rename records a single alias→canonical substitution that was applied.
type Rename struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Ignored records an alias key that was present but not applied because the
// canonical key already had an explicit value.
type Ignored struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason"`
}

// Report summarizes what ArgNormalizer did to one request.
type Report struct {
	Renamed []Rename  `json:"renamed,omitempty"`
	Ignored []Ignored `json:"ignored,omitempty"`
}

func (r Report) Empty() bool { return len(r.Renamed) == 0 && len(r.Ignored) == 0 }

// aliasTables maps canonical key -> accepted alias keys, per tool. The
// "*" entry applies to every tool (orthogonal synonyms like target/timeout).
var aliasTables = map[string]map[string][]string{
	"*": {
		"command":        {"cmd"},
		"args":           {"argv"},
		"timeout_ms":     {"timeout"},
		"query":          {"q"},
		"target":         {"project_target", "environment"},
		"profile":        {"profile_name"},
		"path":           {"file_path", "filepath"},
		"remote_path":    {"dest", "destination"},
		"local_path":     {"src", "source"},
	},
	"mcp_psql_manager": {
		"query": {"q", "sql"},
	},
}

// toolAliases maps the public tool-alias layer to canonical tool names
// (e.g. "sql" -> "mcp_psql_manager").
var toolAliases = map[string]string{
	"sql":   "mcp_psql_manager",
	"ssh":   "mcp_ssh_manager",
	"http":  "mcp_http_manager",
	"vault": "mcp_vault_manager",
	"repo":  "mcp_repo_manager",
	"local": "mcp_local_manager",
}

// CanonicalTool resolves a tool alias to its canonical name.
func CanonicalTool(tool string) string {
	if canon, ok := toolAliases[tool]; ok {
		return canon
	}
	return tool
}

// Normalize applies the alias table for tool to args in place and returns a
// report of what happened. Canonical keys already present are never
// overwritten: an alias key found alongside an already-set canonical key is
// recorded as ignored with reason "canonical_already_set".
func Normalize(tool string, args map[string]interface{}) Report {
	var report Report
	applyTable := func(table map[string][]string) {
		for canonical, aliases := range table {
			for _, alias := range aliases {
				aliasVal, hasAlias := args[alias]
				if !hasAlias {
					continue
				}
				if _, hasCanonical := args[canonical]; hasCanonical {
					report.Ignored = append(report.Ignored, Ignored{From: alias, To: canonical, Reason: "canonical_already_set"})
					delete(args, alias)
					continue
				}
				args[canonical] = aliasVal
				delete(args, alias)
				report.Renamed = append(report.Renamed, Rename{From: alias, To: canonical})
			}
		}
	}

	if generic, ok := aliasTables["*"]; ok {
		applyTable(generic)
	}
	if specific, ok := aliasTables[tool]; ok {
		applyTable(specific)
	}
	return report
}
