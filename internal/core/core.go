// Package core implements the Entity Store: mutable, hash-chained entity
// versions with soft-delete supersession, and the user_relation sub-store
// with time-horizon decay.
package core

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/memogarden/memogarden/internal/uid"
	"github.com/memogarden/memogarden/internal/verrs"
)

// DefaultSafetyCoefficient is the multiplier applied to elapsed days when a
// relation's horizon is refreshed on access (spec §3).
const DefaultSafetyCoefficient = 1.2

// Entity mirrors the `entity` table (spec §3, §6).
type Entity struct {
	UUID         string          `json:"uuid"`
	Type         string          `json:"type"`
	Data         json.RawMessage `json:"data"`
	Metadata     json.RawMessage `json:"metadata"`
	Hash         string          `json:"hash"`
	PreviousHash *string         `json:"previous_hash,omitempty"`
	Version      int             `json:"version"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	SupersededBy *string         `json:"superseded_by,omitempty"`
	SupersededAt *time.Time      `json:"superseded_at,omitempty"`
	GroupID      string          `json:"group_id"`
	DerivedFrom  *string         `json:"derived_from,omitempty"`
}

// Relation mirrors the `user_relation` table.
type Relation struct {
	UUID         string          `json:"uuid"`
	Kind         string          `json:"kind"`
	Source       string          `json:"source"`
	SourceType   string          `json:"source_type"`
	Target       string          `json:"target"`
	TargetType   string          `json:"target_type"`
	TimeHorizon  int             `json:"time_horizon"`
	LastAccessAt int             `json:"last_access_at"`
	CreatedAt    int             `json:"created_at"`
	Metadata     json.RawMessage `json:"metadata"`
	Evidence     json.RawMessage `json:"evidence"`
}

// BaselineRelationKinds is the default closed set; "explicit_link" is the
// baseline per spec §3.
var BaselineRelationKinds = []string{"explicit_link", "relates_to", "part_of", "depends_on", "mentions"}

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the Entity Store + relation sub-store.
type Store struct {
	db                DBTX
	allowedTypes      map[string]struct{} // empty set means unrestricted
	allowedKinds      map[string]struct{}
	safetyCoefficient float64
	clock             func() time.Time
	log               *zap.Logger
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithClock overrides the wall clock, for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// WithSafetyCoefficient overrides the default 1.2 multiplier.
func WithSafetyCoefficient(c float64) Option {
	return func(s *Store) { s.safetyCoefficient = c }
}

// New constructs a Store. A nil allowedKinds selects BaselineRelationKinds;
// a non-nil empty slice admits no relation kind. Entity types are not
// checked here, and the verb layer's create accepts any non-empty type, so
// USER_RELATION_KINDS is the one closed set enforced here.
func New(db DBTX, allowedKinds []string, log *zap.Logger, opts ...Option) *Store {
	if allowedKinds == nil {
		allowedKinds = BaselineRelationKinds
	}
	kinds := make(map[string]struct{}, len(allowedKinds))
	for _, k := range allowedKinds {
		kinds[k] = struct{}{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{
		db:                db,
		allowedKinds:      kinds,
		safetyCoefficient: DefaultSafetyCoefficient,
		clock:             func() time.Time { return time.Now().UTC() },
		log:               log,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) today() int {
	return uid.DayNumber(s.clock())
}

// CreateEntity constructs a fresh entity at version 1. derivedFrom, if
// given, is recorded as the entity this one was reified from (spec §3's
// `derived_from` — "points to the entity this was derived from"); its
// causal chain back to an originating record is walked by the `track`
// verb (see handleTrack in internal/verb).
func (s *Store) CreateEntity(ctx context.Context, entityType string, data json.RawMessage, derivedFrom ...string) (Entity, error) {
	now := s.clock()
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	e := Entity{
		UUID:      uid.New(),
		Type:      entityType,
		Data:      data,
		Metadata:  json.RawMessage("{}"),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	e.GroupID = e.UUID
	if len(derivedFrom) > 0 && derivedFrom[0] != "" {
		e.DerivedFrom = &derivedFrom[0]
	}
	hash, err := computeHash(e.Type, e.CreatedAt, e.UpdatedAt, "")
	if err != nil {
		return Entity{}, verrs.Wrap(verrs.InternalError, "computing entity hash", err)
	}
	e.Hash = hash

	var derivedFromArg any
	if e.DerivedFrom != nil {
		derivedFromArg = *e.DerivedFrom
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entity (uuid, type, data, metadata, hash, previous_hash, version, created_at, updated_at, group_id, derived_from)
		VALUES (?, ?, ?, ?, ?, NULL, ?, ?, ?, ?, ?)
	`, e.UUID, e.Type, string(e.Data), string(e.Metadata), e.Hash, e.Version,
		e.CreatedAt.Format(time.RFC3339Nano), e.UpdatedAt.Format(time.RFC3339Nano), e.GroupID, derivedFromArg)
	if err != nil {
		return Entity{}, verrs.Wrap(verrs.InternalError, "inserting entity", err)
	}
	return e, nil
}

// computeHash implements compute_entity_hash(type, created_at, updated_at,
// previous_hash) — SHA-256 hex over a canonical concatenation (spec §4.1).
func computeHash(entityType string, createdAt, updatedAt time.Time, previousHash string) (string, error) {
	return uid.HashOf(struct {
		Type         string `json:"type"`
		CreatedAt    string `json:"created_at"`
		UpdatedAt    string `json:"updated_at"`
		PreviousHash string `json:"previous_hash"`
	}{entityType, createdAt.Format(time.RFC3339Nano), updatedAt.Format(time.RFC3339Nano), previousHash})
}

// GetEntity returns the current row as-is; does not follow superseded_by.
func (s *Store) GetEntity(ctx context.Context, uuid string) (Entity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT uuid, type, data, metadata, hash, previous_hash, version, created_at, updated_at, superseded_by, superseded_at, group_id, derived_from
		FROM entity WHERE uuid = ?
	`, uuid)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entity{}, verrs.New(verrs.NotFound, fmt.Sprintf("entity %s not found", uuid), nil)
	}
	if err != nil {
		return Entity{}, verrs.Wrap(verrs.InternalError, "reading entity", err)
	}
	return e, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (Entity, error) {
	var e Entity
	var data, metadata string
	var previousHash, supersededBy, supersededAt, derivedFrom sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&e.UUID, &e.Type, &data, &metadata, &e.Hash, &previousHash, &e.Version,
		&createdAt, &updatedAt, &supersededBy, &supersededAt, &e.GroupID, &derivedFrom); err != nil {
		return Entity{}, err
	}
	e.Data = json.RawMessage(data)
	e.Metadata = json.RawMessage(metadata)
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	if previousHash.Valid {
		e.PreviousHash = &previousHash.String
	}
	if supersededBy.Valid {
		e.SupersededBy = &supersededBy.String
	}
	if supersededAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, supersededAt.String)
		e.SupersededAt = &t
	}
	if derivedFrom.Valid {
		e.DerivedFrom = &derivedFrom.String
	}
	return e, nil
}

// UpdateData performs an atomic read-modify-write: merges newData over the
// existing data object (shallow, key-wise), increments version, chains the
// hash. basedOnVersion/basedOnHash, if non-zero/non-empty, must match the
// current row or the call fails lock_conflict.
func (s *Store) UpdateData(ctx context.Context, uuid string, newData json.RawMessage, basedOnVersion int, basedOnHash string, unset ...string) (Entity, error) {
	current, err := s.GetEntity(ctx, uuid)
	if err != nil {
		return Entity{}, err
	}
	if basedOnVersion != 0 && basedOnVersion != current.Version {
		return Entity{}, verrs.New(verrs.LockConflict, fmt.Sprintf("entity %s is at version %d, not %d", uuid, current.Version, basedOnVersion), nil)
	}
	if basedOnHash != "" && basedOnHash != current.Hash {
		return Entity{}, verrs.New(verrs.LockConflict, fmt.Sprintf("entity %s hash has changed", uuid), nil)
	}

	merged, err := mergeJSON(current.Data, newData)
	if err != nil {
		return Entity{}, verrs.Wrap(verrs.ValidationError, "merging entity data", err)
	}
	if len(unset) > 0 {
		merged, err = unsetJSON(merged, unset)
		if err != nil {
			return Entity{}, verrs.Wrap(verrs.ValidationError, "unsetting entity data keys", err)
		}
	}

	now := s.clock()
	newVersion := current.Version + 1
	newHash, err := computeHash(current.Type, current.CreatedAt, now, current.Hash)
	if err != nil {
		return Entity{}, verrs.Wrap(verrs.InternalError, "computing entity hash", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE entity SET data = ?, version = ?, previous_hash = ?, hash = ?, updated_at = ?
		WHERE uuid = ?
	`, string(merged), newVersion, current.Hash, newHash, now.Format(time.RFC3339Nano), uuid)
	if err != nil {
		return Entity{}, verrs.Wrap(verrs.InternalError, "updating entity", err)
	}

	current.Data = merged
	current.Version = newVersion
	current.PreviousHash = &current.Hash
	current.Hash = newHash
	current.UpdatedAt = now
	return current, nil
}

func mergeJSON(base, overlay json.RawMessage) (json.RawMessage, error) {
	var baseMap, overlayMap map[string]any
	if len(base) > 0 {
		if err := json.Unmarshal(base, &baseMap); err != nil {
			return nil, err
		}
	}
	if baseMap == nil {
		baseMap = map[string]any{}
	}
	if len(overlay) > 0 {
		if err := json.Unmarshal(overlay, &overlayMap); err != nil {
			return nil, err
		}
	}
	for k, v := range overlayMap {
		baseMap[k] = v
	}
	return json.Marshal(baseMap)
}

// unsetJSON deletes the named top-level keys from data, the `unset` half
// of edit's set/unset semantics (spec §4.2).
func unsetJSON(data json.RawMessage, keys []string) (json.RawMessage, error) {
	var m map[string]any
	if len(data) > 0 {
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
	}
	if m == nil {
		m = map[string]any{}
	}
	for _, k := range keys {
		delete(m, k)
	}
	return json.Marshal(m)
}

// Supersede sets superseded_by/superseded_at on original, pointing to a
// replacement entity (typically a freshly-minted Tombstone for `forget`).
func (s *Store) Supersede(ctx context.Context, original, replacement string) error {
	now := s.clock()
	existing, err := s.GetEntity(ctx, original)
	if err != nil {
		return err
	}
	if existing.SupersededBy != nil {
		if *existing.SupersededBy == replacement {
			return nil
		}
		return verrs.New(verrs.ValidationError, fmt.Sprintf("entity %s already superseded by %s", original, *existing.SupersededBy), nil)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE entity SET superseded_by = ?, superseded_at = ? WHERE uuid = ?
	`, replacement, now.Format(time.RFC3339Nano), original)
	if err != nil {
		return verrs.Wrap(verrs.InternalError, "superseding entity", err)
	}
	return nil
}

// QueryFilter is the equality/pagination filter set for QueryWithFilters.
type QueryFilter struct {
	Type              string
	IncludeSuperseded bool
	Limit             int
	Offset            int
}

// QueryWithFilters returns rows matching filter and the total count before
// pagination.
func (s *Store) QueryWithFilters(ctx context.Context, filter QueryFilter) ([]Entity, int, error) {
	var clauses []string
	var args []any
	if filter.Type != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, filter.Type)
	}
	if !filter.IncludeSuperseded {
		clauses = append(clauses, "superseded_by IS NULL")
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM entity %s", where), args...).Scan(&total); err != nil {
		return nil, 0, verrs.Wrap(verrs.InternalError, "counting entities", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
		SELECT uuid, type, data, metadata, hash, previous_hash, version, created_at, updated_at, superseded_by, superseded_at, group_id, derived_from
		FROM entity %s ORDER BY created_at ASC LIMIT ? OFFSET ?
	`, where)
	args = append(args, limit, filter.Offset)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, verrs.Wrap(verrs.InternalError, "querying entities", err)
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, 0, verrs.Wrap(verrs.InternalError, "scanning entity", err)
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

// --- Relation sub-store ---

// CreateRelation validates kind against the closed USER_RELATION_KINDS set
// and inserts a relation whose horizon starts initialHorizonDays out.
func (s *Store) CreateRelation(ctx context.Context, kind, src, srcType, tgt, tgtType string, initialHorizonDays int, metadata, evidence json.RawMessage) (Relation, error) {
	if _, ok := s.allowedKinds[kind]; !ok {
		return Relation{}, verrs.New(verrs.ValidationError, fmt.Sprintf("relation kind %q is not in the configured set", kind), nil)
	}
	if initialHorizonDays <= 0 {
		initialHorizonDays = 7
	}
	today := s.today()
	r := Relation{
		UUID:         uid.New(),
		Kind:         kind,
		Source:       src,
		SourceType:   srcType,
		Target:       tgt,
		TargetType:   tgtType,
		TimeHorizon:  today + initialHorizonDays,
		LastAccessAt: today,
		CreatedAt:    today,
		Metadata:     nonEmptyJSON(metadata),
		Evidence:     nonEmptyJSON(evidence),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_relation (uuid, kind, source, source_type, target, target_type, time_horizon, last_access_at, created_at, metadata, evidence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.UUID, r.Kind, r.Source, r.SourceType, r.Target, r.TargetType, r.TimeHorizon, r.LastAccessAt, r.CreatedAt,
		string(r.Metadata), string(r.Evidence))
	if err != nil {
		return Relation{}, verrs.Wrap(verrs.InternalError, "inserting relation", err)
	}
	return r, nil
}

func nonEmptyJSON(b json.RawMessage) json.RawMessage {
	if len(b) == 0 {
		return json.RawMessage("{}")
	}
	return b
}

// GetRelation returns a relation by uuid.
func (s *Store) GetRelation(ctx context.Context, uuid string) (Relation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT uuid, kind, source, source_type, target, target_type, time_horizon, last_access_at, created_at, metadata, evidence
		FROM user_relation WHERE uuid = ?
	`, uuid)
	r, err := scanRelation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Relation{}, verrs.New(verrs.NotFound, fmt.Sprintf("relation %s not found", uuid), nil)
	}
	if err != nil {
		return Relation{}, verrs.Wrap(verrs.InternalError, "reading relation", err)
	}
	return r, nil
}

func scanRelation(row rowScanner) (Relation, error) {
	var r Relation
	var metadata, evidence string
	if err := row.Scan(&r.UUID, &r.Kind, &r.Source, &r.SourceType, &r.Target, &r.TargetType,
		&r.TimeHorizon, &r.LastAccessAt, &r.CreatedAt, &metadata, &evidence); err != nil {
		return Relation{}, err
	}
	r.Metadata = json.RawMessage(metadata)
	r.Evidence = json.RawMessage(evidence)
	return r, nil
}

// DeleteRelation hard-deletes a relation row. Spec §4.3 lists delete_relation
// alongside edit_relation as a direct store operation (distinct from the
// one-way `expire`, which only adjusts the horizon).
func (s *Store) DeleteRelation(ctx context.Context, uuid string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM user_relation WHERE uuid = ?`, uuid)
	if err != nil {
		return verrs.Wrap(verrs.InternalError, "deleting relation", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return verrs.New(verrs.NotFound, fmt.Sprintf("relation %s not found", uuid), nil)
	}
	return nil
}

// RelationEdit is the settable field set for EditRelation.
type RelationEdit struct {
	TimeHorizon *int
	Metadata    json.RawMessage
	Evidence    json.RawMessage
}

// EditRelation applies a partial update to a relation's mutable fields.
func (s *Store) EditRelation(ctx context.Context, uuid string, edit RelationEdit) (Relation, error) {
	r, err := s.GetRelation(ctx, uuid)
	if err != nil {
		return Relation{}, err
	}
	if edit.TimeHorizon != nil {
		r.TimeHorizon = *edit.TimeHorizon
	}
	if len(edit.Metadata) > 0 {
		r.Metadata = edit.Metadata
	}
	if len(edit.Evidence) > 0 {
		r.Evidence = edit.Evidence
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE user_relation SET time_horizon = ?, metadata = ?, evidence = ? WHERE uuid = ?
	`, r.TimeHorizon, string(r.Metadata), string(r.Evidence), uuid)
	if err != nil {
		return Relation{}, verrs.Wrap(verrs.InternalError, "editing relation", err)
	}
	return r, nil
}

// ListInbound/ListOutbound filter by time_horizon >= today when aliveOnly.
func (s *Store) ListInbound(ctx context.Context, targetUUID string, aliveOnly bool) ([]Relation, error) {
	return s.listBySide(ctx, "target", targetUUID, aliveOnly)
}

func (s *Store) ListOutbound(ctx context.Context, sourceUUID string, aliveOnly bool) ([]Relation, error) {
	return s.listBySide(ctx, "source", sourceUUID, aliveOnly)
}

func (s *Store) listBySide(ctx context.Context, side, uuid string, aliveOnly bool) ([]Relation, error) {
	query := fmt.Sprintf("SELECT uuid, kind, source, source_type, target, target_type, time_horizon, last_access_at, created_at, metadata, evidence FROM user_relation WHERE %s = ?", side)
	args := []any{uuid}
	if aliveOnly {
		query += " AND time_horizon >= ?"
		args = append(args, s.today())
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, verrs.Wrap(verrs.InternalError, "listing relations", err)
	}
	defer rows.Close()
	var out []Relation
	for rows.Next() {
		r, err := scanRelation(rows)
		if err != nil {
			return nil, verrs.Wrap(verrs.InternalError, "scanning relation", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ExploreEdge is one hop discovered by ExploreGraph, carrying the relation
// fields plus the direction it was traversed in and the hop depth it was
// found at.
type ExploreEdge struct {
	UUID      string          `json:"uuid"`
	Kind      string          `json:"kind"`
	Source    string          `json:"source"`
	Target    string          `json:"target"`
	Direction string          `json:"direction"`
	Depth     int             `json:"depth"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// ExploreResult is the BFS graph expansion returned by the Relations-bundle
// explore verb (spec §4.6): every node visited and every edge traversed to
// reach it, radius-bounded.
type ExploreResult struct {
	Nodes []string      `json:"nodes"`
	Edges []ExploreEdge `json:"edges"`
	Count int           `json:"count"`
}

// ExploreGraph performs a radius-bounded breadth-first expansion of the
// user_relation graph starting at anchor. direction selects which side of
// each relation is followed ("outgoing" walks source->target, "incoming"
// walks target->source, "both" walks either); kind, if non-empty, restricts
// traversal to relations of that kind; limit, if positive, caps the total
// number of edges returned.
func (s *Store) ExploreGraph(ctx context.Context, anchor, direction, kind string, radius, limit int) (ExploreResult, error) {
	if radius <= 0 {
		radius = 1
	}
	outgoing := direction == "outgoing" || direction == "both"
	incoming := direction == "incoming" || direction == "both"

	visited := map[string]bool{anchor: true}
	nodes := []string{anchor}
	var edges []ExploreEdge

	type frontierNode struct {
		uuid  string
		depth int
	}
	queue := []frontierNode{{anchor, 0}}

	addEdge := func(e ExploreEdge, other string) {
		edges = append(edges, e)
		if !visited[other] {
			visited[other] = true
			nodes = append(nodes, other)
			queue = append(queue, frontierNode{other, e.Depth})
		}
	}

	for len(queue) > 0 {
		if limit > 0 && len(edges) >= limit {
			break
		}
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= radius {
			continue
		}

		if outgoing {
			rels, err := s.ListOutbound(ctx, cur.uuid, true)
			if err != nil {
				return ExploreResult{}, err
			}
			for _, r := range rels {
				if kind != "" && r.Kind != kind {
					continue
				}
				addEdge(ExploreEdge{UUID: r.UUID, Kind: r.Kind, Source: r.Source, Target: r.Target, Direction: "outgoing", Depth: cur.depth + 1, Metadata: r.Metadata}, r.Target)
				if limit > 0 && len(edges) >= limit {
					break
				}
			}
		}
		if limit > 0 && len(edges) >= limit {
			continue
		}
		if incoming {
			rels, err := s.ListInbound(ctx, cur.uuid, true)
			if err != nil {
				return ExploreResult{}, err
			}
			for _, r := range rels {
				if kind != "" && r.Kind != kind {
					continue
				}
				addEdge(ExploreEdge{UUID: r.UUID, Kind: r.Kind, Source: r.Source, Target: r.Target, Direction: "incoming", Depth: cur.depth + 1, Metadata: r.Metadata}, r.Source)
				if limit > 0 && len(edges) >= limit {
					break
				}
			}
		}
	}

	if limit > 0 && len(edges) > limit {
		edges = edges[:limit]
	}
	return ExploreResult{Nodes: nodes, Edges: edges, Count: len(edges)}, nil
}

// UpdateTimeHorizon implements the decay arithmetic in spec §3:
//
//	time_horizon := time_horizon + floor((today - last_access_at) * S)
//	last_access_at := today
func (s *Store) UpdateTimeHorizon(ctx context.Context, uuid string) (Relation, error) {
	r, err := s.GetRelation(ctx, uuid)
	if err != nil {
		return Relation{}, err
	}
	today := s.today()
	elapsed := today - r.LastAccessAt
	growth := int(math.Floor(float64(elapsed) * s.safetyCoefficient))
	r.TimeHorizon += growth
	r.LastAccessAt = today
	_, err = s.db.ExecContext(ctx, `
		UPDATE user_relation SET time_horizon = ?, last_access_at = ? WHERE uuid = ?
	`, r.TimeHorizon, r.LastAccessAt, uuid)
	if err != nil {
		return Relation{}, verrs.Wrap(verrs.InternalError, "updating time horizon", err)
	}
	return r, nil
}

// FactTimeHorizon returns max(time_horizon) over inbound alive relations,
// or nil if none.
func (s *Store) FactTimeHorizon(ctx context.Context, uuid string) (*int, error) {
	rels, err := s.ListInbound(ctx, uuid, true)
	if err != nil {
		return nil, err
	}
	if len(rels) == 0 {
		return nil, nil
	}
	max := rels[0].TimeHorizon
	for _, r := range rels[1:] {
		if r.TimeHorizon > max {
			max = r.TimeHorizon
		}
	}
	return &max, nil
}

// Expire sets time_horizon = today - 1. One-way: callers cannot un-expire
// a relation through this method.
func (s *Store) Expire(ctx context.Context, uuid string) error {
	today := s.today()
	_, err := s.db.ExecContext(ctx, `UPDATE user_relation SET time_horizon = ? WHERE uuid = ?`, today-1, uuid)
	if err != nil {
		return verrs.Wrap(verrs.InternalError, "expiring relation", err)
	}
	return nil
}

// IsAlive reports whether r.TimeHorizon >= today.
func (s *Store) IsAlive(r Relation) bool {
	return r.TimeHorizon >= s.today()
}

// VerifyChain replays the hash function across every stored version of a
// group_id chain is not directly supported (only the current row is kept
// per entity; this is a single-row chain check against the given entity's
// own previous_hash field, matching spec §8's per-version invariant).
func (s *Store) VerifyChain(e Entity) (bool, error) {
	prev := ""
	if e.PreviousHash != nil {
		prev = *e.PreviousHash
	}
	h, err := computeHash(e.Type, e.CreatedAt, e.UpdatedAt, prev)
	if err != nil {
		return false, err
	}
	return h == e.Hash, nil
}
