// Copyright (C) 2025 Nirman AI (deveshjha247@gmail.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/deveshjha247/Nirman/datatypes"
	"github.com/deveshjha247/Nirman/storage/badgerstore"
)

// HandleGetPreferences returns a user's aggregated preference profile.
func (a *API) HandleGetPreferences(c *gin.Context) {
	prefs, err := a.store.GetPreferences(c.Request.Context(), c.Param("user_id"))
	if errors.Is(err, badgerstore.ErrNotFound) {
		fail(c, http.StatusNotFound, "no preferences recorded for user")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, "preference lookup failed")
		return
	}
	c.JSON(http.StatusOK, prefs)
}

// HandleGetInsights summarizes what the engine has learned for a user:
// top sections, industry affinities, and the size of the global pattern
// library.
func (a *API) HandleGetInsights(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.Param("user_id")

	prefs, err := a.store.GetPreferences(ctx, userID)
	if err != nil && !errors.Is(err, badgerstore.ErrNotFound) {
		fail(c, http.StatusInternalServerError, "preference lookup failed")
		return
	}
	if prefs == nil {
		prefs = &datatypes.UserPreferences{UserID: userID}
	}

	patterns, err := a.store.ListPatterns(ctx)
	if err != nil {
		fail(c, http.StatusInternalServerError, "pattern lookup failed")
		return
	}

	topSections := prefs.TopSections(5)
	if topSections == nil {
		topSections = []string{}
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":           userID,
		"top_sections":      topSections,
		"industry_affinity": prefs.IndustryAffinity,
		"preferred_tone":    prefs.PreferredTone,
		"pattern_count":     len(patterns),
	})
}

// learningConfigRequest is the PUT /v1/learning/config/:user_id payload.
type learningConfigRequest struct {
	PersonalizationEnabled bool `json:"personalization_enabled"`
	GlobalLearningEnabled  bool `json:"global_learning_enabled"`
}

// HandlePutLearningConfig stores a user's learning opt-outs.
func (a *API) HandlePutLearningConfig(c *gin.Context) {
	var req learningConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	cfg := &datatypes.LearningConfig{
		UserID:                 c.Param("user_id"),
		PersonalizationEnabled: req.PersonalizationEnabled,
		GlobalLearningEnabled:  req.GlobalLearningEnabled,
	}
	if err := a.store.PutLearningConfig(c.Request.Context(), cfg); err != nil {
		fail(c, http.StatusInternalServerError, "config write failed")
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// HandleGetLearningConfig returns a user's learning config, defaults
// when none is stored.
func (a *API) HandleGetLearningConfig(c *gin.Context) {
	cfg, err := a.store.GetLearningConfig(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		fail(c, http.StatusInternalServerError, "config lookup failed")
		return
	}
	c.JSON(http.StatusOK, cfg)
}
