// Package soil implements the Fact Store: an append-only table of
// immutable, typed facts plus the immutable system_relation edges that
// carry audit and lineage semantics over them.
package soil

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/memogarden/memogarden/internal/uid"
	"github.com/memogarden/memogarden/internal/verrs"
)

// BaselineTypes is the closed set of fact _type values accepted by
// create_fact when New is given no allowedTypes. The daemon passes none,
// so the baseline_item_types config option does not change it.
var BaselineTypes = []string{
	"Note", "Message", "Email", "ToolCall", "EntityDelta", "SystemEvent",
	"Action", "ActionResult", "Artifact", "ArtifactDelta",
}

// Fact mirrors the `item` table (spec §3, §6's persistent layout table).
type Fact struct {
	UUID          string          `json:"uuid"`
	Type          string          `json:"_type"`
	Data          json.RawMessage `json:"data"`
	Metadata      json.RawMessage `json:"metadata"`
	IntegrityHash string          `json:"integrity_hash"`
	Fidelity      string          `json:"fidelity"`
	RealizedAt    time.Time       `json:"realized_at"`
	CanonicalAt   time.Time       `json:"canonical_at"`
	SupersededBy  *string         `json:"superseded_by,omitempty"`
	SupersededAt  *time.Time      `json:"superseded_at,omitempty"`
}

// SystemRelation mirrors the `system_relation` table: an immutable edge.
type SystemRelation struct {
	UUID       string          `json:"uuid"`
	Kind       string          `json:"kind"`
	Source     string          `json:"source"`
	SourceType string          `json:"source_type"`
	Target     string          `json:"target"`
	TargetType string          `json:"target_type"`
	CreatedAt  time.Time       `json:"created_at"`
	Evidence   json.RawMessage `json:"evidence"`
}

// Page is a filtered, paginated result set from ListFacts.
type Page struct {
	Facts      []Fact
	TotalCount int
}

// Store is the Fact Store. It owns the `item` and `system_relation`
// tables and never mutates a stored row except through MarkSuperseded.
type Store struct {
	db            DBTX
	allowedTypes  map[string]struct{}
	log           *zap.Logger
}

// DBTX is satisfied by *sql.DB and *sql.Tx so the store can run inside the
// Transaction Coordinator's scoped handle or standalone.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New constructs a Store bound to db (or a transaction handle), validating
// facts against allowedTypes (nil means BaselineTypes).
func New(db DBTX, allowedTypes []string, log *zap.Logger) *Store {
	if allowedTypes == nil {
		allowedTypes = BaselineTypes
	}
	set := make(map[string]struct{}, len(allowedTypes))
	for _, t := range allowedTypes {
		set[t] = struct{}{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, allowedTypes: set, log: log}
}

// CreateFact stores a new immutable fact, assigning a uuid and computing
// integrity_hash if absent.
func (s *Store) CreateFact(ctx context.Context, f Fact) (Fact, error) {
	if _, ok := s.allowedTypes[f.Type]; !ok {
		return Fact{}, verrs.New(verrs.ValidationError, fmt.Sprintf("fact type %q is not in the configured baseline set", f.Type), nil)
	}
	if f.UUID == "" {
		f.UUID = uid.New()
	}
	if f.RealizedAt.IsZero() {
		f.RealizedAt = time.Now().UTC()
	}
	if f.CanonicalAt.IsZero() {
		f.CanonicalAt = f.RealizedAt
	}
	if f.Fidelity == "" {
		f.Fidelity = "full"
	}
	if len(f.Data) == 0 {
		f.Data = json.RawMessage("{}")
	}
	if len(f.Metadata) == 0 {
		f.Metadata = json.RawMessage("{}")
	}
	if f.IntegrityHash == "" {
		h, err := computeIntegrityHash(f)
		if err != nil {
			return Fact{}, verrs.Wrap(verrs.InternalError, "computing integrity hash", err)
		}
		f.IntegrityHash = h
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO item (uuid, type, data, metadata, integrity_hash, fidelity, realized_at, canonical_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, f.UUID, f.Type, string(f.Data), string(f.Metadata), f.IntegrityHash, f.Fidelity,
		f.RealizedAt.Format(time.RFC3339Nano), f.CanonicalAt.Format(time.RFC3339Nano))
	if err != nil {
		return Fact{}, verrs.Wrap(verrs.InternalError, "inserting fact", err)
	}
	return f, nil
}

func computeIntegrityHash(f Fact) (string, error) {
	return uid.HashOf(struct {
		Type        string          `json:"type"`
		Data        json.RawMessage `json:"data"`
		RealizedAt  time.Time       `json:"realized_at"`
		CanonicalAt time.Time       `json:"canonical_at"`
	}{f.Type, f.Data, f.RealizedAt, f.CanonicalAt})
}

// GetFact returns a fact by uuid, or a not_found verrs.Error.
func (s *Store) GetFact(ctx context.Context, uuid string) (Fact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT uuid, type, data, metadata, integrity_hash, fidelity, realized_at, canonical_at, superseded_by, superseded_at
		FROM item WHERE uuid = ?
	`, uuid)
	f, err := scanFact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Fact{}, verrs.New(verrs.NotFound, fmt.Sprintf("fact %s not found", uuid), nil)
	}
	if err != nil {
		return Fact{}, verrs.Wrap(verrs.InternalError, "reading fact", err)
	}
	return f, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFact(row rowScanner) (Fact, error) {
	var f Fact
	var data, metadata string
	var realizedAt, canonicalAt string
	var supersededBy, supersededAt sql.NullString
	if err := row.Scan(&f.UUID, &f.Type, &data, &metadata, &f.IntegrityHash, &f.Fidelity,
		&realizedAt, &canonicalAt, &supersededBy, &supersededAt); err != nil {
		return Fact{}, err
	}
	f.Data = json.RawMessage(data)
	f.Metadata = json.RawMessage(metadata)
	f.RealizedAt, _ = time.Parse(time.RFC3339Nano, realizedAt)
	f.CanonicalAt, _ = time.Parse(time.RFC3339Nano, canonicalAt)
	if supersededBy.Valid {
		f.SupersededBy = &supersededBy.String
	}
	if supersededAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, supersededAt.String)
		f.SupersededAt = &t
	}
	return f, nil
}

// MarkSuperseded sets superseded_by/superseded_at on original. Idempotent
// when called again with the same new uuid; fails validation_error if
// original is already superseded by a different fact.
func (s *Store) MarkSuperseded(ctx context.Context, original, newUUID string, at time.Time) error {
	existing, err := s.GetFact(ctx, original)
	if err != nil {
		return err
	}
	if existing.SupersededBy != nil {
		if *existing.SupersededBy == newUUID {
			return nil
		}
		return verrs.New(verrs.ValidationError, fmt.Sprintf("fact %s already superseded by %s", original, *existing.SupersededBy), nil)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE item SET superseded_by = ?, superseded_at = ? WHERE uuid = ?
	`, newUUID, at.UTC().Format(time.RFC3339Nano), original)
	if err != nil {
		return verrs.Wrap(verrs.InternalError, "marking fact superseded", err)
	}
	return nil
}

// CreateSystemRelation inserts an immutable audit/lineage edge.
func (s *Store) CreateSystemRelation(ctx context.Context, r SystemRelation) (SystemRelation, error) {
	if r.UUID == "" {
		r.UUID = uid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if len(r.Evidence) == 0 {
		r.Evidence = json.RawMessage("{}")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO system_relation (uuid, kind, source, source_type, target, target_type, created_at, evidence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.UUID, r.Kind, r.Source, r.SourceType, r.Target, r.TargetType,
		r.CreatedAt.Format(time.RFC3339Nano), string(r.Evidence))
	if err != nil {
		return SystemRelation{}, verrs.Wrap(verrs.InternalError, "inserting system relation", err)
	}
	return r, nil
}

// ListFactsFilter is the equality/pagination filter set for ListFacts.
type ListFactsFilter struct {
	Type              string
	IncludeSuperseded bool
	StartIndex        int
	Count             int
}

// ListFacts returns a page of facts matching filters, superseded_by IS NULL
// by default.
func (s *Store) ListFacts(ctx context.Context, filter ListFactsFilter) (Page, error) {
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
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM item %s", where)
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return Page{}, verrs.Wrap(verrs.InternalError, "counting facts", err)
	}

	count := filter.Count
	if count <= 0 {
		count = 50
	}
	query := fmt.Sprintf(`
		SELECT uuid, type, data, metadata, integrity_hash, fidelity, realized_at, canonical_at, superseded_by, superseded_at
		FROM item %s ORDER BY realized_at ASC LIMIT ? OFFSET ?
	`, where)
	args = append(args, count, filter.StartIndex)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return Page{}, verrs.Wrap(verrs.InternalError, "listing facts", err)
	}
	defer rows.Close()

	var facts []Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return Page{}, verrs.Wrap(verrs.InternalError, "scanning fact", err)
		}
		facts = append(facts, f)
	}
	return Page{Facts: facts, TotalCount: total}, rows.Err()
}

// Coverage determines which JSON paths of data/metadata substring search
// scans; see spec §4.9.
type Coverage string

const (
	CoverageNames   Coverage = "names"
	CoverageContent Coverage = "content"
	CoverageFull    Coverage = "full"
)

var nameLikeKeys = []string{"name", "title", "subject"}
var bodyKeys = []string{"body", "content", "text", "message", "description"}

// SearchFacts performs a case-insensitive substring scan over data (and,
// at full coverage, metadata) JSON text.
func (s *Store) SearchFacts(ctx context.Context, query string, coverage Coverage, limit int) ([]Fact, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT uuid, type, data, metadata, integrity_hash, fidelity, realized_at, canonical_at, superseded_by, superseded_at
		FROM item WHERE superseded_by IS NULL ORDER BY realized_at DESC
	`)
	if err != nil {
		return nil, verrs.Wrap(verrs.InternalError, "scanning facts for search", err)
	}
	defer rows.Close()

	q := strings.ToLower(query)
	var out []Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, verrs.Wrap(verrs.InternalError, "scanning fact", err)
		}
		if factMatches(f, q, coverage) {
			out = append(out, f)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, rows.Err()
}

// ExploreLineage returns every system_relation edge touching uuid on
// either side (supersedes/triggers/result_of): the fact-lineage read that
// get_relation/query_relation return when their target is a fact.
func (s *Store) ExploreLineage(ctx context.Context, uuid string) ([]SystemRelation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT uuid, kind, source, source_type, target, target_type, created_at, evidence
		FROM system_relation WHERE source = ? OR target = ? ORDER BY created_at ASC
	`, uuid, uuid)
	if err != nil {
		return nil, verrs.Wrap(verrs.InternalError, "exploring lineage", err)
	}
	defer rows.Close()
	var out []SystemRelation
	for rows.Next() {
		var r SystemRelation
		var createdAt, evidence string
		if err := rows.Scan(&r.UUID, &r.Kind, &r.Source, &r.SourceType, &r.Target, &r.TargetType, &createdAt, &evidence); err != nil {
			return nil, verrs.Wrap(verrs.InternalError, "scanning system relation", err)
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		r.Evidence = json.RawMessage(evidence)
		out = append(out, r)
	}
	return out, rows.Err()
}

func factMatches(f Fact, q string, coverage Coverage) bool {
	var blob map[string]any
	_ = json.Unmarshal(f.Data, &blob)

	keys := nameLikeKeys
	switch coverage {
	case CoverageContent:
		keys = append(append([]string{}, nameLikeKeys...), bodyKeys...)
	case CoverageFull:
		for k, v := range blob {
			if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), q) {
				return true
			}
			_ = k
		}
		var meta map[string]any
		_ = json.Unmarshal(f.Metadata, &meta)
		for _, v := range meta {
			if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), q) {
				return true
			}
		}
	}
	for _, k := range keys {
		if v, ok := blob[k]; ok {
			if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), q) {
				return true
			}
		}
	}
	return false
}
