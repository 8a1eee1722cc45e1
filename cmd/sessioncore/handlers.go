package main

import (
	"context"
	"time"

	"github.com/c360/sessioncore/connection"
	"github.com/c360/sessioncore/logging"
	"github.com/c360/sessioncore/message"
	"github.com/c360/sessioncore/optimizer"
	"github.com/c360/sessioncore/router"
)

// core wires the router handlers to the connection manager and the
// response optimizer.
type core struct {
	router  *router.Router
	manager *connection.Manager
	opt     *optimizer.Optimizer
	logger  *logging.Logger
}

// registerHandlers binds the inbound message types to their handlers.
func (c *core) registerHandlers() error {
	if err := c.router.RegisterHandler(message.TypePing, c.handlePing); err != nil {
		return err
	}
	if err := c.router.RegisterHandler(message.TypeSystemStatusRequest, c.handleStatusRequest); err != nil {
		return err
	}
	return c.router.RegisterHandler(message.TypeChatMessage, c.handleChat)
}

// handlePing records the heartbeat and answers with a pong.
func (c *core) handlePing(ctx context.Context, env message.Envelope) error {
	if err := c.manager.Heartbeat(env.ClientID); err != nil {
		return err
	}
	reply := message.NewEnvelope(env.ClientID, message.TypePong,
		message.PongPayload{EchoedAt: time.Now().UTC()}, message.PriorityHigh)
	return c.manager.Send(ctx, env.ClientID, reply)
}

// handleStatusRequest answers with a point-in-time status snapshot.
// Offline clients get the last cached snapshot, marked stale, so a lost
// link degrades to old data instead of no data.
func (c *core) handleStatusRequest(ctx context.Context, env message.Envelope) error {
	payload, _ := env.Payload.(message.StatusRequestPayload)

	state, err := c.manager.GetState(env.ClientID)
	if err != nil {
		return err
	}

	if state == connection.StateOffline {
		if cached, age, ok := c.manager.GetCachedData(env.ClientID, "system_status"); ok {
			c.logger.Debug("serving cached status to offline client",
				"client_id", env.ClientID, "age", age)
			return c.sendStatus(ctx, env.ClientID, payload.RequestID, cached, true)
		}
	}

	snapshot := c.buildStatusSnapshot()
	if err := c.manager.CacheData(env.ClientID, "system_status", snapshot); err != nil {
		c.logger.Warn("failed to cache status snapshot",
			"client_id", env.ClientID, "error", err)
	}
	return c.sendStatus(ctx, env.ClientID, payload.RequestID, snapshot, false)
}

func (c *core) buildStatusSnapshot() map[string]any {
	routerStatus := c.router.Status()
	optStats := c.opt.Stats()
	connections := c.manager.List()

	byState := make(map[string]int)
	for _, info := range connections {
		byState[info.State.String()]++
	}

	return map[string]any{
		"generated_at": time.Now().UTC(),
		"router": map[string]any{
			"queued":       routerStatus.Queued,
			"processed":    routerStatus.Processed,
			"failed":       routerStatus.Failed,
			"in_flight":    routerStatus.InFlight,
			"queue_depth":  routerStatus.QueueDepth,
			"rate_limited": routerStatus.RateLimited,
			"by_priority":  routerStatus.ByPriority,
		},
		"connections": map[string]any{
			"total":    len(connections),
			"by_state": byState,
		},
		"optimizer": map[string]any{
			"hits":       optStats.Hits,
			"misses":     optStats.Misses,
			"hit_rate":   optStats.HitRate,
			"coalesced":  optStats.Coalesced,
			"cache_size": optStats.CacheSize,
		},
	}
}

func (c *core) sendStatus(ctx context.Context, clientID, requestID string, snapshot map[string]any, stale bool) error {
	reply := message.NewEnvelope(clientID, message.TypeSystemStatusUpdate,
		message.StatusUpdatePayload{
			RequestID: requestID,
			Snapshot:  snapshot,
			Stale:     stale,
		}, message.PriorityNormal)
	return c.manager.Send(ctx, clientID, reply)
}

// handleChat serves a chat message through the response optimizer and
// reports generation failures back to the client as error messages.
func (c *core) handleChat(ctx context.Context, env message.Envelope) error {
	payload, ok := env.Payload.(message.ChatPayload)
	if !ok {
		return c.sendError(ctx, env, "bad_payload", "chat payload missing")
	}

	strategy := optimizer.Strategy(payload.Strategy)
	if !strategy.IsValid() {
		strategy = optimizer.StrategyBalanced
	}

	reqContext := map[string]string{}
	if payload.ConversationID != "" {
		reqContext["conversation_id"] = payload.ConversationID
	}

	result, err := c.opt.Respond(ctx, optimizer.Request{
		Query:    payload.Message,
		Strategy: strategy,
		Context:  reqContext,
	})
	if err != nil {
		c.logger.Error("chat generation failed", err,
			"client_id", env.ClientID, "message_id", env.ID)
		if sendErr := c.sendError(ctx, env, "generation_failed",
			"could not generate a response, please retry"); sendErr != nil {
			return sendErr
		}
		return err
	}

	reply := message.NewEnvelope(env.ClientID, message.TypeChatResponse,
		message.ChatResponsePayload{
			Content:        result.Content,
			ConversationID: payload.ConversationID,
			FromCache:      result.CacheHit,
		}, env.Priority)
	return c.manager.Send(ctx, env.ClientID, reply)
}

func (c *core) sendError(ctx context.Context, env message.Envelope, code, msg string) error {
	reply := message.NewEnvelope(env.ClientID, message.TypeError,
		message.ErrorPayload{Code: code, Message: msg, RefID: env.ID},
		message.PriorityHigh)
	return c.manager.Send(ctx, env.ClientID, reply)
}
