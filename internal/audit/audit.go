package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/memogarden/memogarden/internal/soil"
	"github.com/memogarden/memogarden/internal/verb"
	"github.com/memogarden/memogarden/internal/verrs"
)

// Auditor wraps a Dispatcher, recording a before/after Action/ActionResult
// fact pair around every dispatched request (spec §4.7's audit wrapper):
//
//  1. write an Action fact describing the request, in its own transaction
//  2. run the operation
//  3. write an ActionResult fact describing the outcome, in a separate
//     transaction, linked to the Action by a `result_of` system relation
//  4. publish a best-effort event to the event bus on success
//
// bypass_semantic_api=true on the request runs the operation alone,
// skipping steps 1, 3 and 4. The audit facts themselves are written
// straight to the Fact Store rather than dispatched, so they are never
// audited recursively.
type Auditor struct {
	dispatcher *verb.Dispatcher
	facts      *soil.Store
	bus        *Bus
	clock      func() time.Time
	log        *zap.Logger
}

func New(dispatcher *verb.Dispatcher, facts *soil.Store, bus *Bus, log *zap.Logger) *Auditor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Auditor{dispatcher: dispatcher, facts: facts, bus: bus, clock: func() time.Time { return time.Now().UTC() }, log: log}
}

type actionRecord struct {
	Op    string          `json:"op"`
	Args  json.RawMessage `json:"args,omitempty"`
	Actor string          `json:"actor,omitempty"`
}

type actionResultRecord struct {
	Op     string           `json:"op"`
	OK     bool             `json:"ok"`
	Actor  string           `json:"actor,omitempty"`
	Result any              `json:"result,omitempty"`
	Error  *verb.WireError  `json:"error,omitempty"`
}

// Dispatch runs req through the wrapped Dispatcher, recording the audit
// trail unless req.BypassSemanticAPI is set, and returns the full wire
// Response envelope.
func (a *Auditor) Dispatch(ctx context.Context, req verb.Request) verb.Response {
	if req.BypassSemanticAPI {
		result, err := a.dispatcher.Dispatch(ctx, req)
		return a.toResponse(req, result, err)
	}

	actionData, err := json.Marshal(actionRecord{Op: string(req.Op), Args: req.Args, Actor: req.Actor})
	if err != nil {
		return a.toResponse(req, nil, verrs.Wrap(verrs.InternalError, "marshalling audit action", err))
	}
	actionFact, err := a.facts.CreateFact(ctx, soil.Fact{Type: "Action", Data: actionData, RealizedAt: a.clock()})
	if err != nil {
		return a.toResponse(req, nil, err)
	}

	result, dispatchErr := a.dispatcher.Dispatch(ctx, req)

	resultRecord := actionResultRecord{Op: string(req.Op), Actor: req.Actor, OK: dispatchErr == nil}
	if dispatchErr != nil {
		if ve, ok := verrs.As(dispatchErr); ok {
			resultRecord.Error = &verb.WireError{Code: string(ve.Code), Message: ve.Message, Details: ve.Details}
		} else {
			resultRecord.Error = &verb.WireError{Code: string(verrs.InternalError), Message: dispatchErr.Error()}
		}
	} else {
		resultRecord.Result = result
	}
	resultData, err := json.Marshal(resultRecord)
	if err != nil {
		return a.toResponse(req, result, dispatchErr)
	}
	resultFact, err := a.facts.CreateFact(ctx, soil.Fact{Type: "ActionResult", Data: resultData, RealizedAt: a.clock()})
	if err != nil {
		a.log.Warn("failed to write ActionResult audit fact", zap.Error(err))
		return a.toResponse(req, result, dispatchErr)
	}
	if _, err := a.facts.CreateSystemRelation(ctx, soil.SystemRelation{
		Kind: "result_of", Source: resultFact.UUID, SourceType: "fact", Target: actionFact.UUID, TargetType: "fact",
	}); err != nil {
		a.log.Warn("failed to link ActionResult to Action", zap.Error(err))
	}

	if dispatchErr == nil && a.bus != nil {
		if evt, ok := eventFor(req, result); ok {
			_ = a.bus.Publish(evt)
		}
	}

	return a.toResponse(req, result, dispatchErr)
}

func (a *Auditor) toResponse(req verb.Request, result any, err error) verb.Response {
	resp := verb.Response{Actor: req.Actor, Timestamp: a.clock()}
	if err != nil {
		resp.OK = false
		if ve, ok := verrs.As(err); ok {
			resp.Error = &verb.WireError{Code: string(ve.Code), Message: ve.Message, Details: ve.Details}
		} else {
			resp.Error = &verb.WireError{Code: string(verrs.InternalError), Message: err.Error()}
		}
		return resp
	}
	resp.OK = true
	resp.Result = result
	return resp
}

// eventFor maps a successfully-dispatched op to its event-bus notification,
// per the closed event-type set in spec §4.7. Ops with no corresponding
// event type (get/query/search/batch/get_config and read-only lookups)
// return ok=false.
func eventFor(req verb.Request, result any) (Event, bool) {
	switch req.Op {
	case verb.OpCommitArtifact:
		return Event{Type: EventArtifactDelta, Payload: result}, true
	case verb.OpAdd:
		return Event{Type: EventMessageSent, Payload: result}, true
	case verb.OpEnter:
		return Event{Type: EventScopeCreated, Payload: result}, true
	case verb.OpLeave, verb.OpFocus:
		return Event{Type: EventScopeModified, Payload: result}, true
	case verb.OpLink:
		return Event{Type: EventRelationCreated, Payload: result}, true
	case verb.OpEditRelation, verb.OpUnlink:
		return Event{Type: EventRelationModified, Payload: result}, true
	case verb.OpEdit:
		return Event{Type: EventFrameUpdated, Payload: result}, true
	case verb.OpAmend:
		return Event{Type: EventContextUpdated, Payload: result}, true
	default:
		return Event{}, false
	}
}
