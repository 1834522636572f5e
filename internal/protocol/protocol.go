// Package protocol maps the JSON request/response operation surface
// (spec.md §6) onto internal/engine method calls. The exact line
// framing lives in cmd/openpalace; this package only knows how to turn
// one decoded request object into one response object, grounded on the
// teacher's internal/mcp line-oriented JSON-RPC framing (there a
// client speaking to a server; here the mirror-image dispatch a server
// performs against its own engine).
package protocol

import (
	"context"
	"encoding/json"
	"fmt"

	"openpalace/internal/changelog"
	"openpalace/internal/engine"
	"openpalace/internal/operr"
	"openpalace/internal/relationship"
	"openpalace/internal/snapshot"
	"openpalace/internal/validator"
)

// Request is one decoded line of input: a named operation plus its
// parameter object.
type Request struct {
	Operation string         `json:"operation"`
	Params    map[string]any `json:"params,omitempty"`
}

// Response is one encoded line of output: a human-readable text
// payload plus the is_error flag spec.md §6 requires, and (when the
// underlying call produced one) the structured result for callers
// that want to parse rather than display.
type Response struct {
	Text    string `json:"text"`
	IsError bool   `json:"is_error"`
	Data    any    `json:"data,omitempty"`
}

func errResponse(err error) Response {
	return Response{Text: err.Error(), IsError: true}
}

func okResponse(text string, data any) Response {
	return Response{Text: text, Data: data}
}

// Dispatch routes req to the matching internal/engine method and
// returns the response. An unknown operation name is itself an
// is_error response rather than a Go error, matching spec.md §6's
// "errors surface via is_error = true with a textual reason".
func Dispatch(ctx context.Context, e *engine.Engine, req Request) Response {
	p := params(req.Params)

	switch req.Operation {

	// --- Index ---
	case "index_get":
		text, err := e.IndexGet()
		if err != nil {
			return errResponse(err)
		}
		return okResponse(text, text)

	case "index_search":
		results, err := e.IndexSearch(p.str("query"), p.str("scope"))
		if err != nil {
			return errResponse(err)
		}
		return okResponse(joinLines(results), results)

	// --- Entity ---
	case "entity_list":
		ids, err := e.EntityList()
		if err != nil {
			return errResponse(err)
		}
		return okResponse(joinLines(ids), ids)

	case "entity_get_soul":
		soul, found, err := e.EntityGetSoul(p.str("entity_id"))
		if err != nil {
			return errResponse(err)
		}
		if !found {
			return errResponse(fmt.Errorf("entity %s: %w", p.str("entity_id"), operr.ErrNotFound))
		}
		return okResponse(soul, soul)

	case "entity_get_full":
		ent, found, err := e.EntityGetFull(p.str("entity_id"))
		if err != nil {
			return errResponse(err)
		}
		if !found {
			return errResponse(fmt.Errorf("entity %s: %w", p.str("entity_id"), operr.ErrNotFound))
		}
		return okResponse(ent.DisplayName, ent)

	case "entity_create":
		ent, err := e.EntityCreate(ctx, p.str("entity_id"), p.str("display_name"), p.str("description"), p.str("soul_content"))
		if err != nil {
			return errResponse(err)
		}
		return okResponse(fmt.Sprintf("created entity %s", ent.EntityID), ent)

	case "entity_update_soul":
		if err := e.EntityUpdateSoul(ctx, p.str("entity_id"), p.str("content"), p.str("reason")); err != nil {
			return errResponse(err)
		}
		return okResponse("soul updated", nil)

	case "entity_log_evolution":
		if err := e.EntityLogEvolution(ctx, p.str("entity_id"), p.str("change_summary"), p.str("source")); err != nil {
			return errResponse(err)
		}
		return okResponse("evolution logged", nil)

	// --- Component ---
	case "component_list":
		keys, err := e.ComponentList(p.str("type"))
		if err != nil {
			return errResponse(err)
		}
		return okResponse(joinLines(keys), keys)

	case "component_create":
		if err := e.ComponentCreate(ctx, p.str("type"), p.str("key"), p.str("summary")); err != nil {
			return errResponse(err)
		}
		return okResponse("component created", nil)

	case "component_load":
		summary, recent, err := e.ComponentLoad(p.str("key"))
		if err != nil {
			return errResponse(err)
		}
		return okResponse(summary, map[string]any{"summary": summary, "recent": recent})

	case "component_unload":
		if err := e.ComponentUnload(ctx, p.str("key")); err != nil {
			return errResponse(err)
		}
		return okResponse("component unloaded", nil)

	case "summary_get":
		summary, err := e.SummaryGet(p.str("key"))
		if err != nil {
			return errResponse(err)
		}
		return okResponse(summary, summary)

	case "summary_update":
		if err := e.SummaryUpdate(ctx, p.str("key"), p.str("content"), p.boolVal("validate")); err != nil {
			return errResponse(err)
		}
		return okResponse("summary updated", nil)

	case "summary_verify":
		if err := e.SummaryVerify(ctx, p.str("key")); err != nil {
			return errResponse(err)
		}
		return okResponse("summary verified", nil)

	// --- Changelog ---
	case "changelog_record":
		agent := p.str("agent")
		if agent == "" {
			agent = p.strDefault("source", "agent")
		}
		id, err := e.ChangelogRecord(ctx, changelog.Input{
			Scope:        p.str("scope"),
			Type:         p.str("type"),
			Agent:        agent,
			Action:       p.str("action"),
			Target:       p.str("target"),
			Decision:     p.str("decision"),
			Rationale:    p.str("rationale"),
			Alternatives: p.alternatives("alternatives"),
			Summary:      p.str("summary"),
			Details:      p.str("details"),
			Validate:     p.boolVal("validate"),
		})
		if err != nil {
			return errResponse(err)
		}
		return okResponse(id, id)

	case "changelog_query":
		limit := p.intDefault("limit", 20)
		entries, err := e.ChangelogQuery(p.str("scope"), p.str("since"), limit, p.str("type"), p.str("agent"))
		if err != nil {
			return errResponse(err)
		}
		return okResponse(fmt.Sprintf("%d changelog entries", len(entries)), entries)

	case "validate_write":
		kind := validator.WriteChangelog
		if p.str("type") == "summary" {
			kind = validator.WriteSummary
		}
		result, err := e.ValidateWrite(ctx, p.str("scope"), p.str("content"), kind)
		if err != nil {
			return errResponse(err)
		}
		return okResponse(result.Suggestion, result)

	// --- Scratch ---
	case "scratch_write":
		id, err := e.ScratchWrite(ctx, p.str("content"), p.str("source"), p.strSlice("tags"))
		if err != nil {
			return errResponse(err)
		}
		return okResponse(id, id)

	case "scratch_read":
		notes, err := e.ScratchRead(p.str("date"), p.strSlice("tags"), p.boolVal("include_yesterday"), p.boolDefault("include_promoted", false), p.intVal("limit"))
		if err != nil {
			return errResponse(err)
		}
		return okResponse(fmt.Sprintf("%d scratch notes", len(notes)), notes)

	case "scratch_promote":
		scope, err := e.ScratchPromote(ctx, p.str("scratch_id"), p.str("scope"))
		if err != nil {
			return errResponse(err)
		}
		return okResponse(fmt.Sprintf("promoted to %s", scope), scope)

	// --- Snapshot ---
	case "snapshot_save":
		snap, err := e.SnapshotSave(ctx, snapshot.Input{
			CurrentFocus:    p.strPtr("current_focus"),
			UpdatedBy:       p.strPtr("updated_by"),
			ActiveTasks:     p.tasksPtr("active_tasks"),
			Blockers:        p.strSlicePtr("blockers"),
			RecentDecisions: p.strSlicePtr("recent_decisions"),
			ContextNotes:    p.strPtr("context_notes"),
			SessionMeta:     p.mapVal("session_meta"),
		})
		if err != nil {
			return errResponse(err)
		}
		return okResponse("snapshot saved", snap)

	case "snapshot_read":
		snap, err := e.SnapshotRead()
		if err != nil {
			return errResponse(err)
		}
		return okResponse("snapshot read", snap)

	// --- Relationship ---
	case "relationship_get":
		profile, err := e.RelationshipGet(p.str("entity_id"))
		if err != nil {
			return errResponse(err)
		}
		return okResponse(fmt.Sprintf("trust=%.2f", profile.Trust), profile)

	case "relationship_update_profile":
		profile, err := e.RelationshipUpdateProfile(ctx, p.str("entity_id"), p.str("type"), relationship.ProfileDetail{
			Style:        p.str("style"),
			Expertise:    p.strSlice("expertise"),
			LanguagePref: p.strSlice("language_pref"),
			Notes:        p.str("notes"),
		})
		if err != nil {
			return errResponse(err)
		}
		return okResponse("profile updated", profile)

	case "relationship_log_interaction":
		profile, err := e.RelationshipLogInteraction(ctx, p.str("entity_id"), p.strSlice("tags"))
		if err != nil {
			return errResponse(err)
		}
		return okResponse("interaction logged", profile)

	case "relationship_update_trust":
		profile, err := e.RelationshipUpdateTrust(ctx, p.str("entity_id"), p.floatVal("delta"), p.str("reason"))
		if err != nil {
			return errResponse(err)
		}
		return okResponse(fmt.Sprintf("trust=%.2f", profile.Trust), profile)

	// --- Search ---
	case "raw_search":
		limit := p.intDefault("limit", 10)
		results, err := e.RawSearch(ctx, p.str("query"), p.str("scope"), limit)
		if err != nil {
			return errResponse(err)
		}
		return okResponse(fmt.Sprintf("%d results", len(results)), results)

	case "search_reindex":
		n, err := e.SearchReindex(ctx)
		if err != nil {
			return errResponse(err)
		}
		return okResponse(fmt.Sprintf("reindexed %d documents", n), n)

	case "search_status":
		return okResponse("search status", e.SearchStatus())

	// --- Decay ---
	case "decay_preview":
		candidates, err := e.DecayPreview(ctx, p.intPtr("threshold"))
		if err != nil {
			return errResponse(err)
		}
		return okResponse(fmt.Sprintf("%d decay candidates", len(candidates)), candidates)

	case "decay_pin":
		if err := e.DecayPin(p.str("entry_id"), p.str("action")); err != nil {
			return errResponse(err)
		}
		return okResponse("ok", nil)

	// --- System ---
	case "system_list":
		names := e.SystemList()
		return okResponse(joinLines(names), names)

	case "system_execute":
		result, err := e.SystemExecute(ctx, p.str("name"), p.mapVal("params"))
		if err != nil {
			return errResponse(err)
		}
		return okResponse(fmt.Sprintf("%s executed", p.str("name")), result)

	case "system_status":
		return okResponse("system status", e.SystemStatus(p.str("name")))

	case "system_configure":
		if err := e.SystemConfigure(p.str("path"), p.val("value")); err != nil {
			return errResponse(err)
		}
		return okResponse("configured", nil)

	// --- Config ---
	case "config_get":
		value, err := e.ConfigGet(p.str("path"))
		if err != nil {
			return errResponse(err)
		}
		return okResponse(fmt.Sprintf("%v", value), value)

	case "config_update":
		if err := e.ConfigUpdate(p.str("path"), p.val("value")); err != nil {
			return errResponse(err)
		}
		return okResponse("config updated", nil)

	case "config_reference":
		entries := e.ConfigReference(p.str("filter"))
		return okResponse(fmt.Sprintf("%d reference entries", len(entries)), entries)

	// --- Onboarding ---
	case "onboarding_status":
		completed, err := e.OnboardingStatus()
		if err != nil {
			return errResponse(err)
		}
		return okResponse(fmt.Sprintf("completed=%v", completed), completed)

	case "onboarding_init":
		if err := e.OnboardingInit(p.strSlice("skip_agents")); err != nil {
			return errResponse(err)
		}
		return okResponse("onboarding initialized", nil)

	default:
		return errResponse(fmt.Errorf("unknown operation %q: %w", req.Operation, operr.ErrInvalidArgument))
	}
}

// DecodeRequest unmarshals one line of input into a Request. Exported
// so cmd/openpalace's read loop does not need to reach into
// encoding/json itself.
func DecodeRequest(line []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return Request{}, fmt.Errorf("%w: %s", operr.ErrTransport, err)
	}
	if req.Operation == "" {
		return Request{}, fmt.Errorf("operation field is required: %w", operr.ErrInvalidArgument)
	}
	return req, nil
}

// EncodeResponse marshals resp to a single line of output, newline
// included.
func EncodeResponse(resp Response) ([]byte, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
