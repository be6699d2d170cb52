// Package memogarden provides a minimal public API for extending
// memogardend with custom orchestration.
//
// Most extensions should talk to the daemon over its HTTP verb endpoint.
// This package exports only the essential types and constructors needed
// for Go-based extensions that want to embed MemoGarden's storage layer
// programmatically instead of dialing the daemon.
package memogarden

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/memogarden/memogarden/internal/artifact"
	"github.com/memogarden/memogarden/internal/audit"
	ctxstore "github.com/memogarden/memogarden/internal/context"
	"github.com/memogarden/memogarden/internal/core"
	"github.com/memogarden/memogarden/internal/search"
	"github.com/memogarden/memogarden/internal/soil"
	"github.com/memogarden/memogarden/internal/sqliteutil"
	"github.com/memogarden/memogarden/internal/txn"
	"github.com/memogarden/memogarden/internal/verb"
	"github.com/memogarden/memogarden/internal/verrs"
)

// Open opens (creating if absent) the sqlite database at path and applies
// the shared Soil/Core schema.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	return sqliteutil.Open(ctx, path)
}

// Entity store ("Core") from internal/core.
type (
	EntityStore   = core.Store
	Entity        = core.Entity
	Relation      = core.Relation
	QueryFilter   = core.QueryFilter
	ExploreResult = core.ExploreResult
	ExploreEdge   = core.ExploreEdge
)

// NewEntityStore constructs a Core store over db.
func NewEntityStore(db core.DBTX, allowedRelationKinds []string, log *zap.Logger, opts ...core.Option) *EntityStore {
	return core.New(db, allowedRelationKinds, log, opts...)
}

// Fact store ("Soil") from internal/soil.
type (
	FactStore      = soil.Store
	Fact           = soil.Fact
	SystemRelation = soil.SystemRelation
)

// NewFactStore constructs a Soil store over db.
func NewFactStore(db soil.DBTX, allowedTypes []string, log *zap.Logger) *FactStore {
	return soil.New(db, allowedTypes, log)
}

// BaselineTypes are the fact types MemoGarden ships with out of the box.
var BaselineTypes = soil.BaselineTypes

// Context subsystem from internal/context.
type (
	ContextStore = ctxstore.Store
	ContextFrame = ctxstore.Frame
	View         = ctxstore.View
	Action       = ctxstore.Action
)

// NewContextStore constructs a Context store over an already-open entity store.
func NewContextStore(entities *core.Store) *ContextStore {
	return ctxstore.New(entities)
}

// Artifact delta engine from internal/artifact.
type (
	ArtifactEngine = artifact.Engine
	ArtifactData   = artifact.ArtifactData
	DeltaResult    = artifact.DeltaResult
	Change         = artifact.Change
)

// NewArtifactEngine constructs an Artifact engine over already-open entity and fact stores.
func NewArtifactEngine(entities *core.Store, facts *soil.Store) *ArtifactEngine {
	return artifact.New(entities, facts)
}

// Search engine from internal/search.
type SearchEngine = search.Engine

// NewSearchEngine constructs a Search engine over already-open entity and fact stores.
func NewSearchEngine(entities *core.Store, facts *soil.Store) *SearchEngine {
	return search.New(entities, facts)
}

// Verb dispatcher from internal/verb.
type (
	Dispatcher = verb.Dispatcher
	Request    = verb.Request
	Response   = verb.Response
	WireError  = verb.WireError
	TrackNode  = verb.TrackNode
)

// DecodeRequest parses a raw verb envelope off the wire.
func DecodeRequest(body []byte) (Request, error) {
	return verb.DecodeRequest(body)
}

// StripPrefix and AddPrefix convert between a layer-prefixed UUID
// ("core_...", "soil_...", "rel_...") and its bare form.
func StripPrefix(id string) string     { return verb.StripPrefix(id) }
func AddPrefix(layer, id string) string { return verb.AddPrefix(layer, id) }

// Audit trail and event bus from internal/audit.
type (
	Auditor = audit.Auditor
	Bus     = audit.Bus
	Event   = audit.Event
)

// NewAuditor wraps a Dispatcher with the paired Action/ActionResult audit trail.
func NewAuditor(dispatcher *verb.Dispatcher, facts *soil.Store, bus *Bus, log *zap.Logger) *Auditor {
	return audit.New(dispatcher, facts, bus, log)
}

// NewBus constructs a bounded, best-effort event bus.
func NewBus(bufferSize int, log *zap.Logger) *Bus {
	return audit.NewBus(bufferSize, log)
}

// FormatSSE frames evt as a Server-Sent Events message.
func FormatSSE(evt Event) ([]byte, error) {
	return audit.FormatSSE(evt)
}

// Transaction coordinator from internal/txn.
type (
	Coordinator       = txn.Coordinator
	SystemStatus      = txn.SystemStatus
	ConsistencyReport = txn.ConsistencyReport
)

// System status constants.
const (
	StatusNormal       = txn.StatusNormal
	StatusInconsistent = txn.StatusInconsistent
	StatusReadOnly     = txn.StatusReadOnly
	StatusSafeMode     = txn.StatusSafeMode
)

// NewCoordinator constructs a transaction coordinator over db.
func NewCoordinator(db *sql.DB, allowedFactTypes, allowedRelationKinds []string, log *zap.Logger) *Coordinator {
	return txn.New(db, allowedFactTypes, allowedRelationKinds, log)
}

// Error codes from internal/verrs, returned by every store and the dispatcher.
type Error = verrs.Error

const (
	ValidationError  = verrs.ValidationError
	NotFound         = verrs.NotFound
	LockConflict     = verrs.LockConflict
	PermissionDenied = verrs.PermissionDenied
	InternalError    = verrs.InternalError
)

// AsError unwraps err into a MemoGarden *Error, if it is one.
func AsError(err error) (*Error, bool) {
	return verrs.As(err)
}
