// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianLex/services/investigation"
	"github.com/AleutianAI/AleutianLex/services/investigation/session"
)

// SessionStore persists conversation states.
type SessionStore interface {
	Create(ctx context.Context, st *investigation.State) error
	Get(ctx context.Context, id string) (*investigation.State, error)
	Update(ctx context.Context, id string, fn func(*investigation.State) (*investigation.State, error)) (*investigation.State, error)
}

// Handlers serves the consultation API.
type Handlers struct {
	engine *investigation.Engine
	store  SessionStore
	logger *slog.Logger
}

// NewHandlers creates handlers. logger may be nil.
func NewHandlers(engine *investigation.Engine, store SessionStore, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{engine: engine, store: store, logger: logger}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Version: ServiceVersion})
}

// HandleCreateSession handles POST /v1/sessions.
//
// Description:
//
//	Creates a conversation in START. When the body carries a message it is
//	run as the first turn and the reply is included.
//
// Response:
//
//	201 Created: CreateSessionResponse
//	400 Bad Request: Validation error
//	500 Internal Server Error: Storage or engine failure
func (h *Handlers) HandleCreateSession(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleCreateSession")

	var req CreateSessionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			logger.Warn("Invalid request body", "error", err)
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Code: "INVALID_REQUEST"})
			return
		}
	}

	ctx := c.Request.Context()
	st := h.engine.NewSession(session.NewID())
	if err := h.store.Create(ctx, st); err != nil {
		logger.Error("Create session failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "STORE_FAILED"})
		return
	}
	logger.Info("Session created", "session", st.ID)

	if req.Message == "" {
		c.JSON(http.StatusCreated, CreateSessionResponse{Session: newSessionResponse(st)})
		return
	}

	next, reply, err := h.turn(ctx, st.ID, req.Message)
	if err != nil {
		h.writeTurnError(c, logger, err)
		return
	}
	c.JSON(http.StatusCreated, CreateSessionResponse{Session: newSessionResponse(next), Reply: &reply})
}

// HandleTurn handles POST /v1/sessions/:id/turns.
//
// Response:
//
//	200 OK: TurnResponse. Reply.Retry is set when the turn was rolled back.
//	400 Bad Request: Validation error
//	404 Not Found: Unknown session
//	500 Internal Server Error: Storage or engine failure
func (h *Handlers) HandleTurn(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	id := c.Param("id")
	logger := h.logger.With("request_id", requestID, "handler", "HandleTurn", "session", id)

	var req TurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Code: "INVALID_REQUEST"})
		return
	}

	_, reply, err := h.turn(c.Request.Context(), id, req.Message)
	if err != nil {
		h.writeTurnError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, TurnResponse{SessionID: id, Reply: reply})
}

// HandleGetSession handles GET /v1/sessions/:id.
func (h *Handlers) HandleGetSession(c *gin.Context) {
	id := c.Param("id")
	st, err := h.store.Get(c.Request.Context(), id)
	if errors.Is(err, session.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "session not found", Code: "SESSION_NOT_FOUND"})
		return
	}
	if err != nil {
		h.logger.Error("Get session failed", "session", id, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "STORE_FAILED"})
		return
	}
	c.JSON(http.StatusOK, newSessionResponse(st))
}

// turn runs one engine turn through the store's read-modify-write. A turn
// that races another turn on the same session is discarded with
// session.ErrConflict.
func (h *Handlers) turn(ctx context.Context, id, message string) (*investigation.State, investigation.Reply, error) {
	var reply investigation.Reply
	next, err := h.store.Update(ctx, id, func(st *investigation.State) (*investigation.State, error) {
		out, r, err := h.engine.Turn(ctx, st, message)
		reply = r
		return out, err
	})
	return next, reply, err
}

func (h *Handlers) writeTurnError(c *gin.Context, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "session not found", Code: "SESSION_NOT_FOUND"})
	case errors.Is(err, session.ErrConflict):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "SESSION_CONFLICT"})
	case errors.Is(err, investigation.ErrEmptyInput):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "EMPTY_MESSAGE"})
	default:
		logger.Error("Turn failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "TURN_FAILED"})
	}
}

func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
