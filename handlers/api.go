// Copyright (C) 2025 Nirman AI (deveshjha247@gmail.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the HTTP surface of the build engine:
// build submission, job inspection, SSE streaming, and the learning
// endpoints.
package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/deveshjha247/Nirman/controller"
	"github.com/deveshjha247/Nirman/events"
	"github.com/deveshjha247/Nirman/storage/badgerstore"
)

// defaultKeepAliveInterval paces SSE keepalive comments. Below common
// load balancer idle timeouts (AWS ALB and nginx default to 60s).
const defaultKeepAliveInterval = 30 * time.Second

// API bundles the dependencies shared by all HTTP handlers.
type API struct {
	controller *controller.Controller
	store      *badgerstore.Store
	bus        *events.Bus
	logger     *slog.Logger

	// keepAliveInterval is overridable for tests.
	keepAliveInterval time.Duration
}

// NewAPI creates the handler set.
func NewAPI(ctrl *controller.Controller, store *badgerstore.Store, bus *events.Bus, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		controller:        ctrl,
		store:             store,
		bus:               bus,
		logger:            logger,
		keepAliveInterval: defaultKeepAliveInterval,
	}
}

// HandleHealth reports liveness.
func (a *API) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// fail writes a JSON error response.
func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}
