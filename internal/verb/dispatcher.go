package verb

import (
	stdcontext "context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/memogarden/memogarden/internal/artifact"
	ctxstore "github.com/memogarden/memogarden/internal/context"
	"github.com/memogarden/memogarden/internal/core"
	"github.com/memogarden/memogarden/internal/search"
	"github.com/memogarden/memogarden/internal/soil"
	"github.com/memogarden/memogarden/internal/verrs"
)

// Dispatcher routes a decoded Request to the component that owns its
// operation and returns a result payload (or an error). It holds no
// audit/event-bus logic itself — internal/audit wraps a Dispatcher to add
// that, per spec §4.7's "audit wrapper" design.
type Dispatcher struct {
	Entities   *core.Store
	Facts      *soil.Store
	Contexts   *ctxstore.Store
	Artifacts  *artifact.Engine
	Search     *search.Engine
	Summarizer artifact.Summarizer

	ContextSize int
	Config      map[string]any
}

// Dispatch routes req to its handler and returns the result payload.
// Returned errors are always *verrs.Error (never a bare error), so
// callers (notably the audit wrapper) can assemble the structured
// ActionResult.error.
func (d *Dispatcher) Dispatch(ctx stdcontext.Context, req Request) (any, error) {
	switch req.Op {
	case OpCreate:
		return d.handleCreate(ctx, req)
	case OpEdit:
		return d.handleEdit(ctx, req)
	case OpForget:
		return d.handleForget(ctx, req)
	case OpGet:
		return d.handleGet(ctx, req)
	case OpQuery:
		return d.handleQuery(ctx, req)
	case OpAdd:
		return d.handleAdd(ctx, req)
	case OpAmend:
		return d.handleAmend(ctx, req)
	case OpLink:
		return d.handleLink(ctx, req)
	case OpUnlink:
		return d.handleUnlink(ctx, req)
	case OpEditRelation:
		return d.handleEditRelation(ctx, req)
	case OpGetRelation:
		return d.handleGetRelation(ctx, req)
	case OpQueryRelation:
		return d.handleQueryRelation(ctx, req)
	case OpExplore:
		return d.handleExplore(ctx, req)
	case OpTrack:
		return d.handleTrack(ctx, req)
	case OpEnter:
		return d.handleEnter(ctx, req)
	case OpLeave:
		return d.handleLeave(ctx, req)
	case OpFocus:
		return d.handleFocus(ctx, req)
	case OpCommitArtifact:
		return d.handleCommitArtifact(ctx, req)
	case OpGetArtifactAtCommit:
		return d.handleGetArtifactAtCommit(ctx, req)
	case OpDiffCommits:
		return d.handleDiffCommits(ctx, req)
	case OpFold:
		return d.handleFold(ctx, req)
	case OpGetConversation:
		return d.handleGetConversation(ctx, req)
	case OpSearch:
		return d.handleSearch(ctx, req)
	case OpGetConfig:
		return d.handleGetConfig(ctx, req)
	case OpBatch:
		return d.handleBatch(ctx, req)
	default:
		return nil, verrs.New(verrs.ValidationError, fmt.Sprintf("unknown op %q", req.Op), nil)
	}
}

func decodeArgs[T any](req Request) (T, error) {
	var v T
	if len(req.Args) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(req.Args, &v); err != nil {
		return v, verrs.New(verrs.ValidationError, fmt.Sprintf("decoding args for op %q: %v", req.Op, err), nil)
	}
	return v, nil
}

// routeByTarget decides Entity Store vs Fact Store for get/query: soil_…
// prefix or target_type=fact routes to Soil, anything else to Core.
func routeByTarget(target, targetType string) (isFact bool) {
	if targetType == "fact" {
		return true
	}
	if strings.HasPrefix(target, "soil_") {
		return true
	}
	return false
}
