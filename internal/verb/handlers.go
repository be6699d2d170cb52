package verb

import (
	stdcontext "context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/memogarden/memogarden/internal/artifact"
	ctxstore "github.com/memogarden/memogarden/internal/context"
	"github.com/memogarden/memogarden/internal/core"
	"github.com/memogarden/memogarden/internal/search"
	"github.com/memogarden/memogarden/internal/soil"
	"github.com/memogarden/memogarden/internal/verrs"
)

// --- Core bundle: create / edit / forget / get / query ---

type CreateArgs struct {
	Type        string          `json:"type"`
	Data        json.RawMessage `json:"data"`
	DerivedFrom string          `json:"derived_from,omitempty"`
}

func (d *Dispatcher) handleCreate(ctx stdcontext.Context, req Request) (any, error) {
	args, err := decodeArgs[CreateArgs](req)
	if err != nil {
		return nil, err
	}
	if args.Type == "" {
		return nil, verrs.New(verrs.ValidationError, "create requires a type", nil)
	}
	e, err := d.Entities.CreateEntity(ctx, args.Type, args.Data, StripPrefix(args.DerivedFrom))
	if err != nil {
		return nil, err
	}
	return wireEntity(e), nil
}

type EditArgs struct {
	Target         string          `json:"target"`
	Set            json.RawMessage `json:"set"`
	Unset          []string        `json:"unset,omitempty"`
	BasedOnVersion int             `json:"based_on_version,omitempty"`
	BasedOnHash    string          `json:"based_on_hash,omitempty"`
}

func (d *Dispatcher) handleEdit(ctx stdcontext.Context, req Request) (any, error) {
	args, err := decodeArgs[EditArgs](req)
	if err != nil {
		return nil, err
	}
	if args.Unset != nil && len(args.Unset) == 0 {
		return nil, verrs.New(verrs.ValidationError, "edit: unset must not be an empty list", nil)
	}
	e, err := d.Entities.UpdateData(ctx, StripPrefix(args.Target), args.Set, args.BasedOnVersion, args.BasedOnHash, args.Unset...)
	if err != nil {
		return nil, err
	}
	return wireEntity(e), nil
}

type ForgetArgs struct {
	Target  string `json:"target"`
	Cascade bool   `json:"cascade,omitempty"`
}

func (d *Dispatcher) handleForget(ctx stdcontext.Context, req Request) (any, error) {
	args, err := decodeArgs[ForgetArgs](req)
	if err != nil {
		return nil, err
	}
	target := StripPrefix(args.Target)
	tombstone, err := d.Entities.CreateEntity(ctx, "Tombstone", json.RawMessage(fmt.Sprintf(`{"forgotten":%q}`, target)))
	if err != nil {
		return nil, err
	}
	if err := d.Entities.Supersede(ctx, target, tombstone.UUID); err != nil {
		return nil, err
	}
	if args.Cascade {
		if err := d.cascadeForget(ctx, target); err != nil {
			return nil, err
		}
	}
	e, err := d.Entities.GetEntity(ctx, target)
	if err != nil {
		return nil, err
	}
	return wireEntity(e), nil
}

// cascadeForget supersedes every live entity whose derived_from points,
// transitively, to target (the Cascade-aware forget supplement, see
// SPEC_FULL.md §3).
func (d *Dispatcher) cascadeForget(ctx stdcontext.Context, target string) error {
	rows, _, err := d.Entities.QueryWithFilters(ctx, core.QueryFilter{Limit: 10000})
	if err != nil {
		return err
	}
	var children []core.Entity
	for _, e := range rows {
		if e.DerivedFrom != nil && *e.DerivedFrom == target {
			children = append(children, e)
		}
	}
	for _, child := range children {
		tombstone, err := d.Entities.CreateEntity(ctx, "Tombstone", json.RawMessage(fmt.Sprintf(`{"forgotten":%q}`, child.UUID)))
		if err != nil {
			return err
		}
		if err := d.Entities.Supersede(ctx, child.UUID, tombstone.UUID); err != nil {
			return err
		}
		if err := d.cascadeForget(ctx, child.UUID); err != nil {
			return err
		}
	}
	return nil
}

type GetArgs struct {
	Target     string `json:"target"`
	TargetType string `json:"target_type,omitempty"`
}

func (d *Dispatcher) handleGet(ctx stdcontext.Context, req Request) (any, error) {
	args, err := decodeArgs[GetArgs](req)
	if err != nil {
		return nil, err
	}
	target := StripPrefix(args.Target)
	if routeByTarget(args.Target, args.TargetType) {
		f, err := d.Facts.GetFact(ctx, target)
		if err != nil {
			return nil, err
		}
		return wireFact(f), nil
	}
	e, err := d.Entities.GetEntity(ctx, target)
	if err != nil {
		return nil, err
	}
	return wireEntity(e), nil
}

type QueryArgs struct {
	TargetType        string `json:"target_type,omitempty"`
	Type              string `json:"type,omitempty"`
	IncludeSuperseded bool   `json:"include_superseded,omitempty"`
	Limit             int    `json:"limit,omitempty"`
	Offset            int    `json:"offset,omitempty"`
	StartIndex        int    `json:"start_index,omitempty"`
	Count             int    `json:"count,omitempty"`
}

type QueryResult struct {
	Rows       []any `json:"rows"`
	TotalCount int   `json:"total_count"`
}

func (d *Dispatcher) handleQuery(ctx stdcontext.Context, req Request) (any, error) {
	args, err := decodeArgs[QueryArgs](req)
	if err != nil {
		return nil, err
	}
	if args.TargetType == "fact" {
		page, err := d.Facts.ListFacts(ctx, soil.ListFactsFilter{
			Type: args.Type, IncludeSuperseded: args.IncludeSuperseded, StartIndex: args.StartIndex, Count: args.Count,
		})
		if err != nil {
			return nil, err
		}
		rows := make([]any, 0, len(page.Facts))
		for _, f := range page.Facts {
			rows = append(rows, wireFact(f))
		}
		return QueryResult{Rows: rows, TotalCount: page.TotalCount}, nil
	}
	entities, total, err := d.Entities.QueryWithFilters(ctx, core.QueryFilter{
		Type: args.Type, IncludeSuperseded: args.IncludeSuperseded, Limit: args.Limit, Offset: args.Offset,
	})
	if err != nil {
		return nil, err
	}
	rows := make([]any, 0, len(entities))
	for _, e := range entities {
		rows = append(rows, wireEntity(e))
	}
	return QueryResult{Rows: rows, TotalCount: total}, nil
}

// --- Soil bundle: add / amend ---

type AddArgs struct {
	Type        string          `json:"type"`
	Data        json.RawMessage `json:"data"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	Fidelity    string          `json:"fidelity,omitempty"`
	CanonicalAt *time.Time      `json:"canonical_at,omitempty"`
}

func (d *Dispatcher) handleAdd(ctx stdcontext.Context, req Request) (any, error) {
	args, err := decodeArgs[AddArgs](req)
	if err != nil {
		return nil, err
	}
	f := soil.Fact{Type: args.Type, Data: args.Data, Metadata: args.Metadata, Fidelity: args.Fidelity}
	if args.CanonicalAt != nil {
		f.CanonicalAt = *args.CanonicalAt
	}
	created, err := d.Facts.CreateFact(ctx, f)
	if err != nil {
		return nil, err
	}
	return wireFact(created), nil
}

type AmendArgs struct {
	Target string          `json:"target"`
	Data   json.RawMessage `json:"data,omitempty"`
}

func (d *Dispatcher) handleAmend(ctx stdcontext.Context, req Request) (any, error) {
	args, err := decodeArgs[AmendArgs](req)
	if err != nil {
		return nil, err
	}
	target := StripPrefix(args.Target)
	original, err := d.Facts.GetFact(ctx, target)
	if err != nil {
		return nil, err
	}
	newFact, err := d.Facts.CreateFact(ctx, soil.Fact{Type: original.Type, Data: args.Data, Metadata: original.Metadata})
	if err != nil {
		return nil, err
	}
	if err := d.Facts.MarkSuperseded(ctx, target, newFact.UUID, time.Now().UTC()); err != nil {
		return nil, err
	}
	if _, err := d.Facts.CreateSystemRelation(ctx, soil.SystemRelation{
		Kind: "supersedes", Source: newFact.UUID, SourceType: "fact", Target: target, TargetType: "fact",
	}); err != nil {
		return nil, err
	}
	return wireFact(newFact), nil
}

// --- Relations bundle ---

type LinkArgs struct {
	Kind               string          `json:"kind"`
	Source             string          `json:"source"`
	SourceType         string          `json:"source_type"`
	Target             string          `json:"target"`
	TargetType         string          `json:"target_type"`
	InitialHorizonDays int             `json:"initial_horizon_days,omitempty"`
	Metadata           json.RawMessage `json:"metadata,omitempty"`
	Evidence           json.RawMessage `json:"evidence,omitempty"`
}

func (d *Dispatcher) handleLink(ctx stdcontext.Context, req Request) (any, error) {
	args, err := decodeArgs[LinkArgs](req)
	if err != nil {
		return nil, err
	}
	r, err := d.Entities.CreateRelation(ctx, args.Kind, StripPrefix(args.Source), args.SourceType,
		StripPrefix(args.Target), args.TargetType, args.InitialHorizonDays, args.Metadata, args.Evidence)
	if err != nil {
		return nil, err
	}
	return r, nil
}

type UnlinkArgs struct {
	Target string `json:"target"`
}

func (d *Dispatcher) handleUnlink(ctx stdcontext.Context, req Request) (any, error) {
	args, err := decodeArgs[UnlinkArgs](req)
	if err != nil {
		return nil, err
	}
	if err := d.Entities.DeleteRelation(ctx, StripPrefix(args.Target)); err != nil {
		return nil, err
	}
	return map[string]any{"deleted": true}, nil
}

type EditRelationArgs struct {
	Target string `json:"target"`
	Set    struct {
		TimeHorizon *int            `json:"time_horizon,omitempty"`
		Metadata    json.RawMessage `json:"metadata,omitempty"`
		Evidence    json.RawMessage `json:"evidence,omitempty"`
	} `json:"set"`
}

func (d *Dispatcher) handleEditRelation(ctx stdcontext.Context, req Request) (any, error) {
	args, err := decodeArgs[EditRelationArgs](req)
	if err != nil {
		return nil, err
	}
	r, err := d.Entities.EditRelation(ctx, StripPrefix(args.Target), core.RelationEdit{
		TimeHorizon: args.Set.TimeHorizon, Metadata: args.Set.Metadata, Evidence: args.Set.Evidence,
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

type GetRelationArgs struct {
	Target     string `json:"target"`
	TargetType string `json:"target_type,omitempty"`
}

// handleGetRelation returns a single user_relation row, unless target
// resolves to a fact (target_type=fact, or a soil_-prefixed uuid), in which
// case it falls back to the system_relation lineage walk over that fact
// (SPEC_FULL.md §3's fact-lineage supplement).
func (d *Dispatcher) handleGetRelation(ctx stdcontext.Context, req Request) (any, error) {
	args, err := decodeArgs[GetRelationArgs](req)
	if err != nil {
		return nil, err
	}
	target := StripPrefix(args.Target)
	if routeByTarget(args.Target, args.TargetType) {
		return d.Facts.ExploreLineage(ctx, target)
	}
	r, err := d.Entities.GetRelation(ctx, target)
	if err != nil {
		return nil, err
	}
	return r, nil
}

type QueryRelationArgs struct {
	Target     string `json:"target"`
	TargetType string `json:"target_type,omitempty"`
	Direction  string `json:"direction,omitempty"` // "inbound" | "outbound"
	AliveOnly  bool   `json:"alive_only,omitempty"`
}

func (d *Dispatcher) handleQueryRelation(ctx stdcontext.Context, req Request) (any, error) {
	args, err := decodeArgs[QueryRelationArgs](req)
	if err != nil {
		return nil, err
	}
	target := StripPrefix(args.Target)
	if routeByTarget(args.Target, args.TargetType) {
		return d.Facts.ExploreLineage(ctx, target)
	}
	if args.Direction == "outbound" {
		rels, err := d.Entities.ListOutbound(ctx, target, args.AliveOnly)
		if err != nil {
			return nil, err
		}
		return rels, nil
	}
	rels, err := d.Entities.ListInbound(ctx, target, args.AliveOnly)
	if err != nil {
		return nil, err
	}
	return rels, nil
}

type ExploreArgs struct {
	Anchor    string `json:"anchor"`
	Direction string `json:"direction,omitempty"` // "outgoing" | "incoming" | "both"
	Radius    int    `json:"radius,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// handleExplore is the Relations-bundle graph-expansion verb (spec §4.6):
// a radius-bounded BFS over user_relation edges starting at anchor.
func (d *Dispatcher) handleExplore(ctx stdcontext.Context, req Request) (any, error) {
	args, err := decodeArgs[ExploreArgs](req)
	if err != nil {
		return nil, err
	}
	if args.Anchor == "" {
		return nil, verrs.New(verrs.ValidationError, "explore requires an anchor", nil)
	}
	direction := args.Direction
	if direction == "" {
		direction = "outgoing"
	}
	if direction != "outgoing" && direction != "incoming" && direction != "both" {
		return nil, verrs.New(verrs.ValidationError, "explore: direction must be outgoing, incoming, or both", nil)
	}
	result, err := d.Entities.ExploreGraph(ctx, StripPrefix(args.Anchor), direction, args.Kind, args.Radius, args.Limit)
	if err != nil {
		return nil, err
	}
	for i, n := range result.Nodes {
		result.Nodes[i] = AddPrefix("core", n)
	}
	for i := range result.Edges {
		result.Edges[i].Source = AddPrefix("core", result.Edges[i].Source)
		result.Edges[i].Target = AddPrefix("core", result.Edges[i].Target)
	}
	return result, nil
}

type TrackArgs struct {
	Target   string `json:"target"`
	MaxDepth int    `json:"max_depth,omitempty"`
}

// TrackNode is one hop of the causal chain returned by track: an entity (or
// the originating fact it eventually bottoms out at), linked to the record
// it was derived from.
type TrackNode struct {
	UUID        string     `json:"uuid"`
	Kind        string     `json:"kind"` // "entity" | "fact"
	Type        string     `json:"type"`
	DerivedFrom *TrackNode `json:"derived_from,omitempty"`
}

// handleTrack traces an entity's causal chain back to its originating
// fact by walking derived_from, the Relations-bundle track verb (spec
// §4.6): a tree rooted at target showing what it was reified from, and
// what that was reified from, and so on.
func (d *Dispatcher) handleTrack(ctx stdcontext.Context, req Request) (any, error) {
	args, err := decodeArgs[TrackArgs](req)
	if err != nil {
		return nil, err
	}
	maxDepth := args.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 50
	}
	return d.traceLineage(ctx, StripPrefix(args.Target), maxDepth)
}

func (d *Dispatcher) traceLineage(ctx stdcontext.Context, uuid string, depth int) (*TrackNode, error) {
	if e, err := d.Entities.GetEntity(ctx, uuid); err == nil {
		node := &TrackNode{UUID: AddPrefix("core", e.UUID), Kind: "entity", Type: e.Type}
		if e.DerivedFrom != nil && depth > 1 {
			if parent, err := d.traceLineage(ctx, *e.DerivedFrom, depth-1); err == nil {
				node.DerivedFrom = parent
			}
		}
		return node, nil
	}
	f, err := d.Facts.GetFact(ctx, uuid)
	if err != nil {
		return nil, verrs.New(verrs.NotFound, fmt.Sprintf("track target %s not found as entity or fact", AddPrefix("core", uuid)), nil)
	}
	return &TrackNode{UUID: AddPrefix("soil", f.UUID), Kind: "fact", Type: f.Type}, nil
}

// --- Context bundle ---

type ScopeArgs struct {
	Owner     string `json:"owner"`
	OwnerType string `json:"owner_type"`
	Scope     string `json:"scope"`
}

func (d *Dispatcher) frameFor(ctx stdcontext.Context, owner, ownerType string) (ctxstore.Frame, error) {
	return d.Contexts.GetContextFrame(ctx, owner, ctxstore.OwnerType(ownerType), true)
}

func (d *Dispatcher) handleEnter(ctx stdcontext.Context, req Request) (any, error) {
	args, err := decodeArgs[ScopeArgs](req)
	if err != nil {
		return nil, err
	}
	f, err := d.frameFor(ctx, args.Owner, args.OwnerType)
	if err != nil {
		return nil, err
	}
	f, err = d.Contexts.EnterScope(ctx, f, args.Scope)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (d *Dispatcher) handleLeave(ctx stdcontext.Context, req Request) (any, error) {
	args, err := decodeArgs[ScopeArgs](req)
	if err != nil {
		return nil, err
	}
	f, err := d.frameFor(ctx, args.Owner, args.OwnerType)
	if err != nil {
		return nil, err
	}
	f, err = d.Contexts.LeaveScope(ctx, f, args.Scope)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (d *Dispatcher) handleFocus(ctx stdcontext.Context, req Request) (any, error) {
	args, err := decodeArgs[ScopeArgs](req)
	if err != nil {
		return nil, err
	}
	f, err := d.frameFor(ctx, args.Owner, args.OwnerType)
	if err != nil {
		return nil, err
	}
	f, err = d.Contexts.FocusScope(ctx, f, args.Scope)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// --- Artifact bundle ---

type CommitArtifactArgs struct {
	Artifact      string          `json:"artifact"`
	Ops           string          `json:"ops"`
	BasedOnHash   string          `json:"based_on_hash"`
	References    json.RawMessage `json:"references,omitempty"`
	SourceMessage string          `json:"source_message,omitempty"`
}

func (d *Dispatcher) handleCommitArtifact(ctx stdcontext.Context, req Request) (any, error) {
	args, err := decodeArgs[CommitArtifactArgs](req)
	if err != nil {
		return nil, err
	}
	result, err := d.Artifacts.CommitDelta(ctx, StripPrefix(args.Artifact), args.Ops, args.BasedOnHash,
		args.References, StripPrefix(args.SourceMessage))
	if err != nil {
		return nil, err
	}
	return result, nil
}

type GetArtifactAtCommitArgs struct {
	Artifact   string `json:"artifact"`
	CommitHash string `json:"commit_hash"`
}

func (d *Dispatcher) handleGetArtifactAtCommit(ctx stdcontext.Context, req Request) (any, error) {
	args, err := decodeArgs[GetArtifactAtCommitArgs](req)
	if err != nil {
		return nil, err
	}
	data, err := d.Artifacts.GetArtifactAtCommit(ctx, StripPrefix(args.Artifact), args.CommitHash)
	if err != nil {
		return nil, err
	}
	return data, nil
}

type DiffCommitsArgs struct {
	Artifact string `json:"artifact"`
	A        string `json:"a"`
	B        string `json:"b"`
}

func (d *Dispatcher) handleDiffCommits(ctx stdcontext.Context, req Request) (any, error) {
	args, err := decodeArgs[DiffCommitsArgs](req)
	if err != nil {
		return nil, err
	}
	changes, err := d.Artifacts.DiffCommits(ctx, StripPrefix(args.Artifact), args.A, args.B)
	if err != nil {
		return nil, err
	}
	return changes, nil
}

// --- Conversation bundle ---

type FoldArgs struct {
	Log            string   `json:"log"`
	SummaryContent string   `json:"summary_content,omitempty"`
	Author         string   `json:"author"`
	FragmentIDs    []string `json:"fragment_ids,omitempty"`
}

func (d *Dispatcher) handleFold(ctx stdcontext.Context, req Request) (any, error) {
	args, err := decodeArgs[FoldArgs](req)
	if err != nil {
		return nil, err
	}
	summary := args.SummaryContent
	if summary == "" {
		if d.Summarizer == nil {
			return nil, verrs.New(verrs.ValidationError, "summary_content is required when no summarizer is configured", nil)
		}
		summary, err = d.Summarizer.Summarize(ctx, nil)
		if err != nil {
			return nil, err
		}
	}
	if err := d.Artifacts.Fold(ctx, StripPrefix(args.Log), summary, artifact.FoldAuthor(args.Author), args.FragmentIDs); err != nil {
		return nil, err
	}
	return map[string]any{"folded": true}, nil
}

type GetConversationArgs struct {
	Log string `json:"log"`
}

func (d *Dispatcher) handleGetConversation(ctx stdcontext.Context, req Request) (any, error) {
	args, err := decodeArgs[GetConversationArgs](req)
	if err != nil {
		return nil, err
	}
	e, err := d.Entities.GetEntity(ctx, StripPrefix(args.Log))
	if err != nil {
		return nil, err
	}
	return wireEntity(e), nil
}

// --- Search bundle ---

type SearchArgs struct {
	Query              string   `json:"query"`
	TargetType         string   `json:"target_type,omitempty"`
	Coverage           string   `json:"coverage,omitempty"`
	Effort             string   `json:"effort,omitempty"`
	Strategy           string   `json:"strategy,omitempty"`
	Limit              int      `json:"limit,omitempty"`
	Threshold          *float64 `json:"threshold,omitempty"`
	ContinuationToken  string   `json:"continuation_token,omitempty"`
}

func (d *Dispatcher) handleSearch(ctx stdcontext.Context, req Request) (any, error) {
	args, err := decodeArgs[SearchArgs](req)
	if err != nil {
		return nil, err
	}
	// strategy/effort/threshold/continuation_token are accepted and
	// ignored per spec §9's Open Question: no semantics are fabricated.
	results, err := d.Search.Search(ctx, args.Query, search.TargetType(args.TargetType), search.Coverage(args.Coverage), args.Limit)
	if err != nil {
		return nil, err
	}
	return results, nil
}

// --- get_config / batch ---

func (d *Dispatcher) handleGetConfig(ctx stdcontext.Context, req Request) (any, error) {
	return d.Config, nil
}

type BatchArgs struct {
	Requests []json.RawMessage `json:"requests"`
}

type BatchResult struct {
	Results []BatchItemResult `json:"results"`
}

type BatchItemResult struct {
	OK     bool        `json:"ok"`
	Result interface{} `json:"result,omitempty"`
	Error  *WireError  `json:"error,omitempty"`
}

// handleBatch runs each sub-request sequentially, grounded in the
// teacher's OpBatch (SPEC_FULL.md §3): one request_id, individually
// recorded sub-results.
func (d *Dispatcher) handleBatch(ctx stdcontext.Context, req Request) (any, error) {
	args, err := decodeArgs[BatchArgs](req)
	if err != nil {
		return nil, err
	}
	out := BatchResult{Results: make([]BatchItemResult, 0, len(args.Requests))}
	for _, raw := range args.Requests {
		subReq, err := DecodeRequest(raw)
		if err != nil {
			out.Results = append(out.Results, BatchItemResult{OK: false, Error: &WireError{Code: string(verrs.ValidationError), Message: err.Error()}})
			continue
		}
		subReq.Actor = req.Actor
		result, err := d.Dispatch(ctx, subReq)
		if err != nil {
			if ve, ok := verrs.As(err); ok {
				out.Results = append(out.Results, BatchItemResult{OK: false, Error: &WireError{Code: string(ve.Code), Message: ve.Message, Details: ve.Details}})
			} else {
				out.Results = append(out.Results, BatchItemResult{OK: false, Error: &WireError{Code: string(verrs.InternalError), Message: err.Error()}})
			}
			continue
		}
		out.Results = append(out.Results, BatchItemResult{OK: true, Result: result})
	}
	return out, nil
}

// wireEntity/wireFact add the layer prefix on output (spec §3: "output
// always includes the prefix").
func wireEntity(e core.Entity) core.Entity {
	e.UUID = AddPrefix("core", e.UUID)
	if e.SupersededBy != nil {
		p := AddPrefix("core", *e.SupersededBy)
		e.SupersededBy = &p
	}
	if e.DerivedFrom != nil {
		p := AddPrefix("core", *e.DerivedFrom)
		e.DerivedFrom = &p
	}
	return e
}

func wireFact(f soil.Fact) soil.Fact {
	f.UUID = AddPrefix("soil", f.UUID)
	if f.SupersededBy != nil {
		p := AddPrefix("soil", *f.SupersededBy)
		f.SupersededBy = &p
	}
	return f
}
