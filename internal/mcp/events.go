package mcp

import (
	"context"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/HyphaGroup/assimilate/internal/logger"
	"github.com/HyphaGroup/assimilate/internal/metrics"
	"github.com/HyphaGroup/assimilate/internal/session"
)

const pushBufferSize = 256

// eventPusher forwards a run's events to the MCP session that started it as
// log notifications. Push never blocks: when the client falls behind, events
// are dropped here and stay available through run/events.
type eventPusher struct {
	ss    *mcp.ServerSession
	runID string
	ch    chan *session.BufferedEvent

	mu     sync.Mutex
	closed bool
}

func newEventPusher(ss *mcp.ServerSession, runID string) *eventPusher {
	return &eventPusher{
		ss:    ss,
		runID: runID,
		ch:    make(chan *session.BufferedEvent, pushBufferSize),
	}
}

// Push queues be for delivery.
func (p *eventPusher) Push(be *session.BufferedEvent) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.ch <- be:
	default:
		metrics.RecordEventDrop(p.runID)
	}
}

// Close stops accepting events; queued ones are still delivered.
func (p *eventPusher) Close() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.ch)
	}
}

func (p *eventPusher) run(ctx context.Context) {
	for be := range p.ch {
		if ctx.Err() != nil {
			continue
		}
		err := p.ss.Log(ctx, &mcp.LoggingMessageParams{
			Logger: "assimilate.run",
			Level:  levelFor(be.Event.Type),
			Data:   eventData(p.runID, be),
		})
		if err != nil {
			logger.Printf("Dropping event push for run %s: %v", p.runID, err)
		}
	}
}

func levelFor(t session.EventType) mcp.LoggingLevel {
	switch t {
	case session.EventFailed, session.EventAborted:
		return "error"
	default:
		return "info"
	}
}

func eventData(runID string, be *session.BufferedEvent) map[string]any {
	data := map[string]any{
		"run_id":    runID,
		"index":     be.Index,
		"timestamp": be.Timestamp,
		"type":      be.Event.Type,
	}
	if be.Event.Callout > 0 {
		data["callout"] = be.Event.Callout
	}
	if be.Event.BatchSize > 0 {
		data["batch_size"] = be.Event.BatchSize
	}
	if be.Event.Error != "" {
		data["error"] = be.Event.Error
	}
	return data
}
