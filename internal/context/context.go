// Package context implements the Context Subsystem: per-owner
// ContextFrame with LRU-N containers, the operator scope state machine,
// and the View timeline. A ContextFrame is itself persisted as a Core
// entity (spec §3: "ContextFrame (Core, one per owner)"), so this package
// is a typed façade over internal/core rather than an independent store.
package context

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/memogarden/memogarden/internal/core"
	"github.com/memogarden/memogarden/internal/verrs"
)

// OwnerType is the closed set of ContextFrame owner kinds.
type OwnerType string

const (
	OwnerOperator OwnerType = "operator"
	OwnerAgent    OwnerType = "agent"
	OwnerScope    OwnerType = "scope"
)

// EntityType is the Core entity type a ContextFrame is stored under.
const EntityType = "ContextFrame"

// Frame is the in-memory, typed view of a ContextFrame's data payload.
type Frame struct {
	UUID            string    `json:"-"`
	Owner           string    `json:"owner"`
	OwnerType       OwnerType `json:"owner_type"`
	Containers      []string  `json:"containers"`
	ViewTimeline    []string  `json:"view_timeline"`
	ActiveScopes    []string  `json:"active_scopes"`
	PrimaryScope    *string   `json:"primary_scope"`
	IsSubordinate   bool      `json:"is_subordinate"`
	ParentFrameUUID *string   `json:"parent_frame_uuid,omitempty"`

	Version int    `json:"-"`
	Hash    string `json:"-"`
}

// View mirrors the View record (spec §3).
type View struct {
	UUID            string    `json:"uuid"`
	ContextFrameUUID string   `json:"context_frame_uuid"`
	Actor           string    `json:"actor"`
	Actions         []Action  `json:"actions"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	Prev            *string   `json:"prev,omitempty"`
}

// Action is one entry of a View's ordered action list.
type Action struct {
	Type      string    `json:"type"`
	Target    string    `json:"target"`
	Timestamp time.Time `json:"timestamp"`
	Visited   bool      `json:"visited"`
}

const (
	// DefaultContextSize is N in the LRU-N bound, default 7 per spec §3.
	DefaultContextSize = 7
	ContextMin         = 1
	ContextMax         = 100
)

// substantiveTypes and primitiveTypes are the two disjoint fixed sets
// used by IsSubstantive/IsPrimitive (spec §4.4).
var substantiveTypes = map[string]struct{}{
	"Artifact": {}, "Operator": {}, "Agent": {}, "Transaction": {}, "Recurrence": {},
}
var primitiveTypes = map[string]struct{}{
	"Note": {}, "Message": {}, "Email": {}, "ToolCall": {}, "SystemEvent": {},
}

func IsSubstantive(t string) bool { _, ok := substantiveTypes[t]; return ok }
func IsPrimitive(t string) bool   { _, ok := primitiveTypes[t]; return ok }

// Store manages ContextFrame (via core.Store) and View persistence. Views
// are stored as Core entities of type "View" so the timeline can share the
// Entity Store's versioning machinery without a third table.
type Store struct {
	entities *core.Store
}

func New(entities *core.Store) *Store {
	return &Store{entities: entities}
}

// GetContextFrame upserts the single ContextFrame for (owner, ownerType),
// enforcing I-One-Per-Owner.
func (s *Store) GetContextFrame(ctx context.Context, owner string, ownerType OwnerType, createIfMissing bool) (Frame, error) {
	rows, _, err := s.entities.QueryWithFilters(ctx, core.QueryFilter{Type: EntityType, Limit: 1000})
	if err != nil {
		return Frame{}, err
	}
	for _, e := range rows {
		f, err := frameFromEntity(e)
		if err != nil {
			continue
		}
		if f.Owner == owner && f.OwnerType == ownerType {
			return f, nil
		}
	}
	if !createIfMissing {
		return Frame{}, verrs.New(verrs.NotFound, fmt.Sprintf("no context frame for owner %s", owner), nil)
	}

	f := Frame{Owner: owner, OwnerType: ownerType, Containers: []string{}, ViewTimeline: []string{}, ActiveScopes: []string{}}
	data, err := json.Marshal(f)
	if err != nil {
		return Frame{}, verrs.Wrap(verrs.InternalError, "marshalling new context frame", err)
	}
	e, err := s.entities.CreateEntity(ctx, EntityType, data)
	if err != nil {
		return Frame{}, err
	}
	f.UUID = e.UUID
	f.Version = e.Version
	f.Hash = e.Hash
	return f, nil
}

func frameFromEntity(e core.Entity) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(e.Data, &f); err != nil {
		return Frame{}, err
	}
	f.UUID = e.UUID
	f.Version = e.Version
	f.Hash = e.Hash
	return f, nil
}

func (s *Store) save(ctx context.Context, f Frame) (Frame, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return Frame{}, verrs.Wrap(verrs.InternalError, "marshalling context frame", err)
	}
	e, err := s.entities.UpdateData(ctx, f.UUID, data, f.Version, f.Hash)
	if err != nil {
		return Frame{}, err
	}
	return frameFromEntity(e)
}

// UpdateContainers implements move-to-front LRU-N semantics (I-LRU).
func (s *Store) UpdateContainers(ctx context.Context, f Frame, visitedUUID string, contextSize int) (Frame, error) {
	if contextSize < ContextMin || contextSize > ContextMax {
		return Frame{}, verrs.New(verrs.ValidationError, fmt.Sprintf("context_size %d out of bounds [%d,%d]", contextSize, ContextMin, ContextMax), nil)
	}
	next := make([]string, 0, len(f.Containers)+1)
	next = append(next, visitedUUID)
	for _, c := range f.Containers {
		if c != visitedUUID {
			next = append(next, c)
		}
	}
	if len(next) > contextSize {
		next = next[:contextSize]
	}
	f.Containers = next
	return s.save(ctx, f)
}

// EnterScope adds scope to active_scopes; fails if owner_type != operator
// or scope already active. Sets primary_scope on first entry
// (I-First-Scope-Primary).
func (s *Store) EnterScope(ctx context.Context, f Frame, scope string) (Frame, error) {
	if f.OwnerType != OwnerOperator {
		return Frame{}, verrs.New(verrs.ValidationError, "only operator context frames support scopes", nil)
	}
	for _, a := range f.ActiveScopes {
		if a == scope {
			return Frame{}, verrs.New(verrs.ValidationError, fmt.Sprintf("scope %s is already active", scope), nil)
		}
	}
	f.ActiveScopes = append(f.ActiveScopes, scope)
	if f.PrimaryScope == nil {
		s := scope
		f.PrimaryScope = &s
	}
	return s.save(ctx, f)
}

// LeaveScope removes scope from active_scopes; clears primary_scope if it
// was the one leaving.
func (s *Store) LeaveScope(ctx context.Context, f Frame, scope string) (Frame, error) {
	idx := -1
	for i, a := range f.ActiveScopes {
		if a == scope {
			idx = i
			break
		}
	}
	if idx == -1 {
		return Frame{}, verrs.New(verrs.ValidationError, fmt.Sprintf("scope %s is not active", scope), nil)
	}
	f.ActiveScopes = append(f.ActiveScopes[:idx], f.ActiveScopes[idx+1:]...)
	if f.PrimaryScope != nil && *f.PrimaryScope == scope {
		f.PrimaryScope = nil
	}
	return s.save(ctx, f)
}

// FocusScope sets primary_scope to scope; fails if scope is not active.
// A no-op (but still a successful save) when scope is already primary.
func (s *Store) FocusScope(ctx context.Context, f Frame, scope string) (Frame, error) {
	found := false
	for _, a := range f.ActiveScopes {
		if a == scope {
			found = true
			break
		}
	}
	if !found {
		return Frame{}, verrs.New(verrs.ValidationError, fmt.Sprintf("scope %s is not active", scope), nil)
	}
	s2 := scope
	f.PrimaryScope = &s2
	return s.save(ctx, f)
}

// ForkFrame creates a subordinate frame whose containers start as a
// snapshot of parent's at fork time (I-Fork-Inherit).
func (s *Store) ForkFrame(ctx context.Context, parent Frame, owner string, ownerType OwnerType) (Frame, error) {
	containers := append([]string{}, parent.Containers...)
	f := Frame{
		Owner:           owner,
		OwnerType:       ownerType,
		Containers:      containers,
		ViewTimeline:    []string{},
		ActiveScopes:    []string{},
		IsSubordinate:   true,
		ParentFrameUUID: &parent.UUID,
	}
	data, err := json.Marshal(f)
	if err != nil {
		return Frame{}, verrs.Wrap(verrs.InternalError, "marshalling forked frame", err)
	}
	e, err := s.entities.CreateEntity(ctx, EntityType, data)
	if err != nil {
		return Frame{}, err
	}
	f.UUID = e.UUID
	f.Version = e.Version
	f.Hash = e.Hash
	return f, nil
}

const ViewEntityType = "View"

// CreateView requires at least one action; started_at is taken from the
// first action's timestamp.
func (s *Store) CreateView(ctx context.Context, frameUUID, actor string, actions []Action, prev *string) (View, error) {
	if len(actions) == 0 {
		return View{}, verrs.New(verrs.ValidationError, "a view requires at least one action", nil)
	}
	v := View{
		ContextFrameUUID: frameUUID,
		Actor:            actor,
		Actions:          actions,
		StartedAt:        actions[0].Timestamp,
		Prev:             prev,
	}
	data, err := json.Marshal(v)
	if err != nil {
		return View{}, verrs.Wrap(verrs.InternalError, "marshalling view", err)
	}
	e, err := s.entities.CreateEntity(ctx, ViewEntityType, data)
	if err != nil {
		return View{}, err
	}
	v.UUID = e.UUID
	return v, nil
}

// AppendView pushes view.UUID onto frame.ViewTimeline, preserving order.
func (s *Store) AppendView(ctx context.Context, f Frame, v View) (Frame, error) {
	f.ViewTimeline = append(f.ViewTimeline, v.UUID)
	return s.save(ctx, f)
}

// EndView sets ended_at on a previously created, still-open view.
func (s *Store) EndView(ctx context.Context, viewUUID string, endedAt time.Time) (View, error) {
	e, err := s.entities.GetEntity(ctx, viewUUID)
	if err != nil {
		return View{}, err
	}
	var v View
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return View{}, verrs.Wrap(verrs.InternalError, "unmarshalling view", err)
	}
	v.UUID = e.UUID
	v.EndedAt = &endedAt
	data, err := json.Marshal(v)
	if err != nil {
		return View{}, verrs.Wrap(verrs.InternalError, "marshalling view", err)
	}
	if _, err := s.entities.UpdateData(ctx, viewUUID, data, e.Version, e.Hash); err != nil {
		return View{}, err
	}
	return v, nil
}
