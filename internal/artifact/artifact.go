// Package artifact implements the Artifact Delta Engine: line-oriented
// delta operations over an Artifact entity's content, with hash-based
// optimistic locking and a commit history of ArtifactDelta facts.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/memogarden/memogarden/internal/core"
	"github.com/memogarden/memogarden/internal/soil"
	"github.com/memogarden/memogarden/internal/verrs"
)

// ArtifactEntityType is the Core entity type holding current content.
const ArtifactEntityType = "Artifact"

// ArtifactDeltaFactType is the Soil fact type recording one commit.
const ArtifactDeltaFactType = "ArtifactDelta"

// ArtifactData is the JSON shape of an Artifact entity's `data` field.
type ArtifactData struct {
	Content string `json:"content"`
	Hash    string `json:"hash"`
}

// DeltaResult is returned by CommitDelta.
type DeltaResult struct {
	NewHash    string `json:"new_hash"`
	NewContent string `json:"new_content"`
	DeltaUUID  string `json:"delta_uuid"`
	LineCount  int    `json:"line_count"`
}

// Change is one structured entry of a diff between two commits.
type Change struct {
	Op     string  `json:"op"`
	LineNo int     `json:"line_no"`
	Old    *string `json:"old,omitempty"`
	New    *string `json:"new,omitempty"`
}

// Engine wires the Entity Store (current Artifact content) and Fact Store
// (ArtifactDelta commit history) together.
type Engine struct {
	entities *core.Store
	facts    *soil.Store
	clock    func() time.Time
}

func New(entities *core.Store, facts *soil.Store) *Engine {
	return &Engine{entities: entities, facts: facts, clock: func() time.Time { return time.Now().UTC() }}
}

// contentHash is the 8-character prefix of the content's SHA-256, the form
// spec §4.5 calls "an 8-character prefix of a content SHA".
func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:8]
}

func loadArtifact(e core.Entity) (ArtifactData, error) {
	var a ArtifactData
	if err := json.Unmarshal(e.Data, &a); err != nil {
		return ArtifactData{}, verrs.Wrap(verrs.InternalError, "unmarshalling artifact data", err)
	}
	return a, nil
}

// applyOps parses and applies each line of ops in declaration order.
// Positions are interpreted against the buffer's current state at each op
// (the Open Question in spec §9 pinned this way; see DESIGN.md).
func applyOps(lines []string, ops string) ([]string, error) {
	buf := append([]string{}, lines...)
	for _, line := range strings.Split(strings.TrimRight(ops, "\n"), "\n") {
		if line == "" {
			continue
		}
		var err error
		buf, err = applyOne(buf, line)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func applyOne(buf []string, op string) ([]string, error) {
	switch op[0] {
	case '+':
		rest := op[1:]
		parts := strings.SplitN(rest, ":", 2)
		if len(parts) != 2 {
			return nil, verrs.New(verrs.ValidationError, fmt.Sprintf("malformed insert op %q", op), nil)
		}
		pos, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, verrs.New(verrs.ValidationError, fmt.Sprintf("malformed insert position in %q", op), nil)
		}
		idx := pos - 1
		if idx < 0 || idx > len(buf) {
			return nil, verrs.New(verrs.ValidationError, fmt.Sprintf("insert position %d out of range", pos), nil)
		}
		out := make([]string, 0, len(buf)+1)
		out = append(out, buf[:idx]...)
		out = append(out, parts[1])
		out = append(out, buf[idx:]...)
		return out, nil

	case '-':
		pos, err := strconv.Atoi(op[1:])
		if err != nil {
			return nil, verrs.New(verrs.ValidationError, fmt.Sprintf("malformed remove op %q", op), nil)
		}
		idx := pos - 1
		if idx < 0 || idx >= len(buf) {
			return nil, verrs.New(verrs.ValidationError, fmt.Sprintf("remove position %d out of range", pos), nil)
		}
		out := make([]string, 0, len(buf)-1)
		out = append(out, buf[:idx]...)
		out = append(out, buf[idx+1:]...)
		return out, nil

	case '~':
		rest := op[1:]
		colon := strings.Index(rest, ":")
		if colon == -1 {
			return nil, verrs.New(verrs.ValidationError, fmt.Sprintf("malformed replace op %q", op), nil)
		}
		pos, err := strconv.Atoi(rest[:colon])
		if err != nil {
			return nil, verrs.New(verrs.ValidationError, fmt.Sprintf("malformed replace position in %q", op), nil)
		}
		fragPart := rest[colon+1:]
		arrow := strings.Index(fragPart, "→")
		if arrow == -1 {
			arrow = strings.Index(fragPart, "->")
		}
		if arrow == -1 {
			return nil, verrs.New(verrs.ValidationError, fmt.Sprintf("malformed replace fragment in %q", op), nil)
		}
		from := fragPart[:arrow]
		sep := len("→")
		if strings.Contains(fragPart, "->") && !strings.Contains(fragPart, "→") {
			sep = len("->")
		}
		to := fragPart[arrow+sep:]
		idx := pos - 1
		if idx < 0 || idx >= len(buf) {
			return nil, verrs.New(verrs.ValidationError, fmt.Sprintf("replace position %d out of range", pos), nil)
		}
		if buf[idx] != from {
			return nil, verrs.New(verrs.ValidationError, fmt.Sprintf("replace at %d expected %q, found %q", pos, from, buf[idx]), nil)
		}
		out := append([]string{}, buf...)
		out[idx] = to
		return out, nil

	case '>':
		rest := op[1:]
		at := strings.Index(rest, "@")
		if at == -1 {
			return nil, verrs.New(verrs.ValidationError, fmt.Sprintf("malformed move op %q", op), nil)
		}
		fromPos, err1 := strconv.Atoi(rest[:at])
		toPos, err2 := strconv.Atoi(rest[at+1:])
		if err1 != nil || err2 != nil {
			return nil, verrs.New(verrs.ValidationError, fmt.Sprintf("malformed move positions in %q", op), nil)
		}
		fromIdx := fromPos - 1
		if fromIdx < 0 || fromIdx >= len(buf) {
			return nil, verrs.New(verrs.ValidationError, fmt.Sprintf("move source position %d out of range", fromPos), nil)
		}
		line := buf[fromIdx]
		out := append([]string{}, buf[:fromIdx]...)
		out = append(out, buf[fromIdx+1:]...)
		toIdx := toPos - 1
		if toIdx < 0 || toIdx > len(out) {
			return nil, verrs.New(verrs.ValidationError, fmt.Sprintf("move destination position %d out of range", toPos), nil)
		}
		final := make([]string, 0, len(out)+1)
		final = append(final, out[:toIdx]...)
		final = append(final, line)
		final = append(final, out[toIdx:]...)
		return final, nil

	default:
		return nil, verrs.New(verrs.ValidationError, fmt.Sprintf("unrecognized op prefix in %q", op), nil)
	}
}

// CommitDelta applies ops to artifactUUID's current content, enforcing
// hash-based optimistic locking against basedOnHash.
func (e *Engine) CommitDelta(ctx context.Context, artifactUUID, ops, basedOnHash string, references json.RawMessage, sourceMessageUUID string) (DeltaResult, error) {
	entity, err := e.entities.GetEntity(ctx, artifactUUID)
	if err != nil {
		return DeltaResult{}, err
	}
	data, err := loadArtifact(entity)
	if err != nil {
		return DeltaResult{}, err
	}
	if data.Hash != basedOnHash {
		return DeltaResult{}, verrs.New(verrs.LockConflict, fmt.Sprintf("artifact %s hash is %s, not %s", artifactUUID, data.Hash, basedOnHash), nil)
	}

	var lines []string
	if data.Content != "" {
		lines = strings.Split(data.Content, "\n")
	}
	newLines, err := applyOps(lines, ops)
	if err != nil {
		return DeltaResult{}, err
	}
	newContent := strings.Join(newLines, "\n")
	newHash := contentHash(newContent)

	newData, err := json.Marshal(ArtifactData{Content: newContent, Hash: newHash})
	if err != nil {
		return DeltaResult{}, verrs.Wrap(verrs.InternalError, "marshalling artifact data", err)
	}
	if _, err := e.entities.UpdateData(ctx, artifactUUID, newData, entity.Version, entity.Hash); err != nil {
		return DeltaResult{}, err
	}

	deltaData, err := json.Marshal(struct {
		ArtifactUUID string          `json:"artifact_uuid"`
		Ops          string          `json:"ops"`
		BasedOnHash  string          `json:"based_on_hash"`
		NewHash      string          `json:"new_hash"`
		NewContent   string          `json:"new_content"`
		LineCount    int             `json:"line_count"`
		References   json.RawMessage `json:"references,omitempty"`
	}{artifactUUID, ops, basedOnHash, newHash, newContent, len(newLines), references})
	if err != nil {
		return DeltaResult{}, verrs.Wrap(verrs.InternalError, "marshalling delta fact", err)
	}

	fact, err := e.facts.CreateFact(ctx, soil.Fact{Type: ArtifactDeltaFactType, Data: deltaData, RealizedAt: e.clock()})
	if err != nil {
		return DeltaResult{}, err
	}

	if sourceMessageUUID != "" {
		if _, err := e.facts.CreateSystemRelation(ctx, soil.SystemRelation{
			Kind: "triggers", Source: fact.UUID, SourceType: "fact", Target: sourceMessageUUID, TargetType: "fact",
		}); err != nil {
			return DeltaResult{}, err
		}
	}

	return DeltaResult{NewHash: newHash, NewContent: newContent, DeltaUUID: fact.UUID, LineCount: len(newLines)}, nil
}

// GetArtifactAtCommit returns current state if commitHash is empty or
// matches current hash; otherwise walks ArtifactDelta history in reverse
// until a match.
func (e *Engine) GetArtifactAtCommit(ctx context.Context, artifactUUID, commitHash string) (ArtifactData, error) {
	entity, err := e.entities.GetEntity(ctx, artifactUUID)
	if err != nil {
		return ArtifactData{}, err
	}
	current, err := loadArtifact(entity)
	if err != nil {
		return ArtifactData{}, err
	}
	if commitHash == "" || current.Hash == commitHash {
		return current, nil
	}

	deltas, err := e.deltasFor(ctx, artifactUUID)
	if err != nil {
		return ArtifactData{}, err
	}
	for i := len(deltas) - 1; i >= 0; i-- {
		if deltas[i].NewHash == commitHash {
			return ArtifactData{Content: deltas[i].NewContent, Hash: deltas[i].NewHash}, nil
		}
	}
	return ArtifactData{}, verrs.New(verrs.NotFound, fmt.Sprintf("no commit %s found for artifact %s", commitHash, artifactUUID), nil)
}

type deltaRecord struct {
	ArtifactUUID string `json:"artifact_uuid"`
	Ops          string `json:"ops"`
	BasedOnHash  string `json:"based_on_hash"`
	NewHash      string `json:"new_hash"`
	NewContent   string `json:"new_content"`
	LineCount    int    `json:"line_count"`
}

func (e *Engine) deltasFor(ctx context.Context, artifactUUID string) ([]deltaRecord, error) {
	page, err := e.facts.ListFacts(ctx, soil.ListFactsFilter{Type: ArtifactDeltaFactType, Count: 10000})
	if err != nil {
		return nil, err
	}
	var out []deltaRecord
	for _, f := range page.Facts {
		var d deltaRecord
		if err := json.Unmarshal(f.Data, &d); err != nil {
			continue
		}
		if d.ArtifactUUID == artifactUUID {
			out = append(out, d)
		}
	}
	return out, nil
}

// DiffCommits returns a structured line-level diff between two commit
// hashes, suitable for a three-way-merge UI.
func (e *Engine) DiffCommits(ctx context.Context, artifactUUID, a, b string) ([]Change, error) {
	stateA, err := e.GetArtifactAtCommit(ctx, artifactUUID, a)
	if err != nil {
		return nil, err
	}
	stateB, err := e.GetArtifactAtCommit(ctx, artifactUUID, b)
	if err != nil {
		return nil, err
	}
	linesA := strings.Split(stateA.Content, "\n")
	linesB := strings.Split(stateB.Content, "\n")
	max := len(linesA)
	if len(linesB) > max {
		max = len(linesB)
	}
	var changes []Change
	for i := 0; i < max; i++ {
		var oldLine, newLine *string
		if i < len(linesA) {
			v := linesA[i]
			oldLine = &v
		}
		if i < len(linesB) {
			v := linesB[i]
			newLine = &v
		}
		switch {
		case oldLine == nil && newLine != nil:
			changes = append(changes, Change{Op: "+", LineNo: i + 1, New: newLine})
		case oldLine != nil && newLine == nil:
			changes = append(changes, Change{Op: "-", LineNo: i + 1, Old: oldLine})
		case oldLine != nil && newLine != nil && *oldLine != *newLine:
			changes = append(changes, Change{Op: "~", LineNo: i + 1, Old: oldLine, New: newLine})
		}
	}
	return changes, nil
}

// FoldAuthor is the closed set of who may author a fold summary.
type FoldAuthor string

const (
	FoldAuthorOperator FoldAuthor = "operator"
	FoldAuthorAgent    FoldAuthor = "agent"
	FoldAuthorSystem   FoldAuthor = "system"
)

// ConversationLogEntityType holds the foldable message log.
const ConversationLogEntityType = "ConversationLog"

// FoldState is the JSON shape attached to a ConversationLog entity.
type FoldState struct {
	Content     string   `json:"content,omitempty"`
	Author      string   `json:"author,omitempty"`
	Timestamp   string   `json:"timestamp,omitempty"`
	FragmentIDs []string `json:"fragment_ids,omitempty"`
	Collapsed   bool     `json:"collapsed"`
}

// Fold attaches a summary to the ConversationLog entity and sets
// collapsed := true. Re-applying a fold with equal arguments does not
// error and leaves the same content, author and fragment ids, but it
// writes a new entity version and a fresh timestamp each time.
func (e *Engine) Fold(ctx context.Context, logUUID string, summaryContent string, author FoldAuthor, fragmentIDs []string) error {
	entity, err := e.entities.GetEntity(ctx, logUUID)
	if err != nil {
		return err
	}
	fold := FoldState{
		Content:     summaryContent,
		Author:      string(author),
		Timestamp:   e.clock().Format(time.RFC3339Nano),
		FragmentIDs: fragmentIDs,
		Collapsed:   true,
	}
	data, err := json.Marshal(fold)
	if err != nil {
		return verrs.Wrap(verrs.InternalError, "marshalling fold", err)
	}
	_, err = e.entities.UpdateData(ctx, logUUID, data, entity.Version, entity.Hash)
	return err
}

