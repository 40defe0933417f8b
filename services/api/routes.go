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
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RegisterRoutes registers the session endpoints under rg.
//
// Endpoints:
//
//	POST /sessions - Create a conversation, optionally running a first turn
//	POST /sessions/:id/turns - Send one user message
//	GET  /sessions/:id - Read a conversation
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	sessions := rg.Group("/sessions")
	{
		sessions.POST("", h.HandleCreateSession)
		sessions.POST("/:id/turns", h.HandleTurn)
		sessions.GET("/:id", h.HandleGetSession)
	}
}

// NewRouter builds the full HTTP router: tracing middleware, /health,
// /metrics (when metrics is non-nil) and the /v1 API.
func NewRouter(h *Handlers, metrics http.Handler, serviceName string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))

	router.GET("/health", h.HandleHealth)
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}
	RegisterRoutes(router.Group("/v1"), h)
	return router
}
