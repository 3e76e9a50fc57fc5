package stream

import (
	"context"
	"iter"

	"go.opentelemetry.io/otel/trace"

	"github.com/coursetutor/ragdebate/engine/emit"
	"github.com/coursetutor/ragdebate/llm"
	"github.com/coursetutor/ragdebate/retrieval"
	"github.com/coursetutor/ragdebate/workflow"
)

// Request bundles everything one debate run needs.
type Request struct {
	Query                     string
	CourseID                  string
	SessionID                 string
	CoursePrompt              string
	MaxRounds                 int
	RetrievalQualityThreshold float64
	ConversationHistory       []string

	Store      retrieval.Store
	BaseModel  llm.Client
	HeavyModel llm.Client
}

// Orchestrator runs the six-agent debate graph and exposes it as a
// sequence of Events for an HTTP handler (or CLI) to forward as SSE
// frames.
type Orchestrator struct {
	Tracer trace.Tracer // optional; nil disables per-node OTel spans
}

// Run drives the workflow to completion, yielding an in_progress Event
// per node transition (causally ordered node N before node N+1, per
// the engine's sequential execution loop), content Events forming a
// contiguous suffix during the Reporter stage, and a single terminal
// complete or error Event.
func (o *Orchestrator) Run(ctx context.Context, req Request) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		events := make(chan Event, 64)
		done := make(chan struct{})

		bridge := &channelEmitter{events: events}
		var emitter emit.Emitter = bridge
		if o.Tracer != nil {
			emitter = &fanoutEmitter{emitters: []emit.Emitter{bridge, emit.NewOTelEmitter(o.Tracer)}}
		}

		onContent := func(delta string) {
			events <- Event{Type: EventContent, Delta: delta}
		}

		eng, err := workflow.NewStreaming(req.Store, workflow.Clients{
			BaseModel:  req.BaseModel,
			HeavyModel: req.HeavyModel,
		}, emitter, req.RetrievalQualityThreshold, onContent)
		if err != nil {
			yield(Event{Type: EventError, Err: err.Error()}, err)
			return
		}

		initial := workflow.State{
			Query:     req.Query,
			CourseID:  req.CourseID,
			SessionID: req.SessionID,
			MaxRounds: req.MaxRounds,
			Options: workflow.Options{
				CoursePrompt:        req.CoursePrompt,
				MaxRounds:           req.MaxRounds,
				ConversationHistory: req.ConversationHistory,
			},
			WorkflowStatus: workflow.StatusRetrieving,
		}

		var final workflow.State
		var runErr error
		go func() {
			defer close(done)
			final, runErr = eng.Run(ctx, req.SessionID, initial)
		}()

		go func() {
			<-done
			close(events)
		}()

		for ev := range events {
			if !yield(ev, nil) {
				go func() {
					for range events {
					}
				}()
				return
			}
		}

		if runErr != nil {
			yield(Event{Type: EventError, Err: runErr.Error(), Recoverable: false}, runErr)
			return
		}

		complete := Event{
			Type:             EventComplete,
			Answer:           final.FinalAnswer,
			TutorInteraction: final.TutorInteraction,
			Rounds:           final.CurrentRound,
		}
		yield(complete, nil)
	}
}

// channelEmitter adapts engine/emit.Emitter to the Event channel: every
// node_start/node_end observability event becomes an in_progress Event.
type channelEmitter struct {
	events chan Event
}

func (c *channelEmitter) Emit(event emit.Event) {
	c.events <- Event{
		Type:    EventInProgress,
		Node:    event.NodeID,
		Stage:   event.Msg,
		Message: event.Msg,
	}
}

func (c *channelEmitter) EmitBatch(ctx context.Context, evs []emit.Event) error {
	for _, e := range evs {
		c.Emit(e)
	}
	return nil
}

func (c *channelEmitter) Flush(ctx context.Context) error { return nil }

// fanoutEmitter forwards every event to each of its wrapped emitters,
// used to both bridge node transitions onto the Event channel and
// record an instant OTel span per engine event via emit.NewOTelEmitter.
type fanoutEmitter struct {
	emitters []emit.Emitter
}

func (f *fanoutEmitter) Emit(event emit.Event) {
	for _, e := range f.emitters {
		e.Emit(event)
	}
}

func (f *fanoutEmitter) EmitBatch(ctx context.Context, evs []emit.Event) error {
	for _, e := range f.emitters {
		if err := e.EmitBatch(ctx, evs); err != nil {
			return err
		}
	}
	return nil
}

func (f *fanoutEmitter) Flush(ctx context.Context) error {
	for _, e := range f.emitters {
		if err := e.Flush(ctx); err != nil {
			return err
		}
	}
	return nil
}
