package config

import "strings"

// ReferenceEntry documents one tunable: its dotted path, default, Go type,
// human description, and the system it affects. spec.md §3 requires every
// tunable to appear here.
type ReferenceEntry struct {
	Path           string `yaml:"path" json:"path"`
	Default        string `yaml:"default" json:"default"`
	Type           string `yaml:"type" json:"type"`
	Description    string `yaml:"description" json:"description"`
	AffectedSystem string `yaml:"affected_system" json:"affected_system"`
}

// Reference enumerates every configuration tunable. Kept in sync with the
// Config struct by hand, the way the teacher keeps its own ShardProfile
// defaults documented alongside the struct definition.
var Reference = []ReferenceEntry{
	{"summarizer.enabled", "true", "bool", "whether the summarizer pipeline runs at all", "summarizer"},
	{"summarizer.digest_interval_hours", "24", "int", "minimum hours between digest passes for a component", "summarizer"},
	{"summarizer.synthesis_interval_days", "7", "int", "minimum days between weekly synthesis passes", "summarizer"},
	{"summarizer.review_interval_days", "30", "int", "minimum days between monthly review passes", "summarizer"},

	{"llm.mode", "auto", "string", "sampling | direct | auto language-model call strategy", "llm"},
	{"llm.provider", "genai", "string", "direct-mode provider: genai | http", "llm"},
	{"llm.model", "gemini-2.0-flash", "string", "model identifier passed to the provider", "llm"},
	{"llm.base_url", "", "string", "override endpoint for the http direct provider", "llm"},
	{"llm.api_key_env", "GEMINI_API_KEY", "string", "environment variable holding the provider API key", "llm"},
	{"llm.max_tokens", "2048", "int", "default max_tokens for ask() calls", "llm"},
	{"llm.temperature", "0.3", "float", "sampling temperature for ask() calls", "llm"},
	{"llm.timeout_seconds", "30", "int", "per-call timeout for direct HTTP/SDK calls", "llm"},

	{"memory_ingest.enabled", "false", "bool", "whether the scheduled memory-ingest system runs", "memory_ingest"},
	{"memory_ingest.watch_paths", "[]", "[]string", "paths scanned by memory-ingest for new scratch material", "memory_ingest"},
	{"memory_ingest.source_label", "ingest:watch", "string", "scratch.source value stamped on ingested entries", "memory_ingest"},

	{"decay.max_age_days", "30", "int", "minimum entry age before it is eligible for archival", "decay"},
	{"decay.default_threshold", "20", "int", "temperature threshold below which entries are archival candidates", "decay"},
	{"decay.pinned_entries", "[]", "[]string", "changelog entry IDs exempt from archival (temperature pinned to 999)", "decay"},
	{"decay.excluded_scopes", "[]", "[]string", "component scopes never scanned by decay", "decay"},

	{"validation.auto_validate_decisions", "true", "bool", "run the write validator automatically for decision entries", "validation"},
	{"validation.max_recent_entries", "20", "int", "recent entries gathered for validator context", "validation"},

	{"workspace_sync.enabled", "true", "bool", "whether startup workspace sync runs", "workspace_sync"},
	{"workspace_sync.path", "", "string", "explicit workspace path; empty triggers candidate probing", "workspace_sync"},
	{"workspace_sync.watch", "false", "bool", "keep an fsnotify watch on the workspace between calls", "workspace_sync"},
	{"workspace_sync.watched_files", "[AGENTS.md CLAUDE.md]", "[]string", "host file names mirrored into the store", "workspace_sync"},
	{"workspace_sync.primary_identity_file", "CLAUDE.md", "string", "watched file that mirrors the primary entity's soul_content", "workspace_sync"},
	{"workspace_sync.primary_entity_id", "", "string", "entity_id that owns the primary identity mapping", "workspace_sync"},

	{"search.backend", "auto", "string", "auto | simple | bm25 | external search backend selection", "search"},
	{"search.auto_reindex", "true", "bool", "schedule a debounced reindex after content-changing events", "search"},
	{"search.reindex_debounce_ms", "2000", "int", "debounce window for coalescing reindex triggers", "search"},
	{"search.external_command", "rg", "string", "binary name probed for the external-CLI search backend", "search"},

	{"onboarding.completed", "false", "bool", "whether first-run onboarding has completed", "onboarding"},
	{"onboarding.skip_agents", "[]", "[]string", "agent identities to skip during onboarding entity creation", "onboarding"},
}

// FilterReference returns reference rows whose path or affected system
// contains filter (case-insensitive substring). An empty filter returns
// every row.
func FilterReference(filter string) []ReferenceEntry {
	if filter == "" {
		return Reference
	}
	f := strings.ToLower(filter)
	out := make([]ReferenceEntry, 0, len(Reference))
	for _, r := range Reference {
		if strings.Contains(strings.ToLower(r.Path), f) || strings.Contains(strings.ToLower(r.AffectedSystem), f) {
			out = append(out, r)
		}
	}
	return out
}
