// Package verb implements the Verb Dispatcher: the schema-validated
// request envelope, op-bundle routing, and the uniform response envelope
// (spec §4.6), grounded in the teacher's internal/rpc/protocol.go Request/
// Response envelope and Op* constant design.
package verb

import (
	"encoding/json"
	"strings"
	"time"
)

// Op is the closed set of supported verbs, partitioned into bundles.
type Op string

const (
	OpCreate Op = "create"
	OpEdit   Op = "edit"
	OpForget Op = "forget"
	OpGet    Op = "get"
	OpQuery  Op = "query"

	OpAdd   Op = "add"
	OpAmend Op = "amend"

	OpLink          Op = "link"
	OpUnlink        Op = "unlink"
	OpEditRelation  Op = "edit_relation"
	OpGetRelation   Op = "get_relation"
	OpQueryRelation Op = "query_relation"
	OpExplore       Op = "explore"
	OpTrack         Op = "track"

	OpEnter Op = "enter"
	OpLeave Op = "leave"
	OpFocus Op = "focus"

	OpCommitArtifact      Op = "commit_artifact"
	OpGetArtifactAtCommit Op = "get_artifact_at_commit"
	OpDiffCommits         Op = "diff_commits"

	OpFold            Op = "fold"
	OpGetConversation Op = "get_conversation"

	OpSearch Op = "search"

	OpGetConfig Op = "get_config"
	OpBatch     Op = "batch"
)

// Bundle names the group an Op belongs to, used only for documentation /
// introspection (routing itself dispatches per-op, see dispatcher.go).
type Bundle string

const (
	BundleCore         Bundle = "core"
	BundleSoil         Bundle = "soil"
	BundleRelations    Bundle = "relations"
	BundleContext      Bundle = "context"
	BundleArtifact     Bundle = "artifact"
	BundleConversation Bundle = "conversation"
	BundleSearch       Bundle = "search"
)

var opBundles = map[Op]Bundle{
	OpCreate: BundleCore, OpEdit: BundleCore, OpForget: BundleCore,
	OpAdd: BundleSoil, OpAmend: BundleSoil,
	OpLink: BundleRelations, OpUnlink: BundleRelations, OpEditRelation: BundleRelations,
	OpGetRelation: BundleRelations, OpQueryRelation: BundleRelations, OpExplore: BundleRelations, OpTrack: BundleRelations,
	OpEnter: BundleContext, OpLeave: BundleContext, OpFocus: BundleContext,
	OpCommitArtifact: BundleArtifact, OpGetArtifactAtCommit: BundleArtifact, OpDiffCommits: BundleArtifact,
	OpFold: BundleConversation, OpGetConversation: BundleConversation,
	OpSearch: BundleSearch,
}

// BundleOf returns the bundle an op belongs to, or "" if unknown. get and
// query are ambiguous between Core and Soil; routing resolves them by
// target prefix/target_type (see routeByTarget).
func BundleOf(op Op) Bundle {
	switch op {
	case OpGet, OpQuery:
		return "" // resolved dynamically
	}
	return opBundles[op]
}

// Request is the inbound envelope (spec §4.6): `{op, ...fields,
// bypass_semantic_api?}`. Op-specific fields are carried in Args and
// decoded by each handler.
type Request struct {
	Op                Op              `json:"op"`
	Args              json.RawMessage `json:"-"`
	BypassSemanticAPI bool            `json:"bypass_semantic_api,omitempty"`
	RequestID         string          `json:"request_id,omitempty"`
	Actor             string          `json:"-"` // populated by the transport layer, never trusted from the wire
}

// rawRequest is the wire shape used to separate the fixed envelope fields
// from the op-specific payload, which is re-marshalled into Args.
type rawRequest struct {
	Op                Op   `json:"op"`
	BypassSemanticAPI bool `json:"bypass_semantic_api,omitempty"`
	RequestID         string `json:"request_id,omitempty"`
}

// DecodeRequest parses the wire envelope, retaining the full body as Args
// so handlers can decode their own op-specific struct from it.
func DecodeRequest(body []byte) (Request, error) {
	var raw rawRequest
	if err := json.Unmarshal(body, &raw); err != nil {
		return Request{}, err
	}
	return Request{Op: raw.Op, Args: json.RawMessage(body), BypassSemanticAPI: raw.BypassSemanticAPI, RequestID: raw.RequestID}, nil
}

// Response is the outbound envelope: `{ok, actor, timestamp, result?,
// error?}`.
type Response struct {
	OK        bool        `json:"ok"`
	Actor     string      `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Result    interface{} `json:"result,omitempty"`
	Error     *WireError  `json:"error,omitempty"`
}

// WireError is the wire shape of verrs.Error.
type WireError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// StripPrefix removes a known layer prefix ("core_", "soil_", "rel_") from
// a UUID. Stripping a non-prefixed UUID returns it unchanged (spec §3,
// §4.1 round-trip property).
func StripPrefix(id string) string {
	for _, p := range []string{"core_", "soil_", "rel_"} {
		if strings.HasPrefix(id, p) {
			return strings.TrimPrefix(id, p)
		}
	}
	return id
}

// AddPrefix prepends layer to uuid if not already present. AddPrefix(l,
// StripPrefix(AddPrefix(l,u))) = AddPrefix(l,u) (spec §8's round-trip
// property) because re-adding after stripping is a no-op once the prefix
// is already correct.
func AddPrefix(layer, id string) string {
	prefix := layer + "_"
	if strings.HasPrefix(id, prefix) {
		return id
	}
	return prefix + StripPrefix(id)
}
