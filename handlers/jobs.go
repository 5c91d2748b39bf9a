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

	"github.com/deveshjha247/Nirman/controller"
	"github.com/deveshjha247/Nirman/datatypes"
	"github.com/deveshjha247/Nirman/storage/badgerstore"
)

// HandleBuild accepts a build request and returns 202 with the job id
// and stream URL.
func (a *API) HandleBuild(c *gin.Context) {
	var req datatypes.BuildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	job, err := a.controller.StartBuild(c.Request.Context(), req)
	if errors.Is(err, controller.ErrInvalidRequest) {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		a.logger.Error("build submit failed", "error", err.Error())
		fail(c, http.StatusInternalServerError, "could not accept build")
		return
	}

	c.JSON(http.StatusAccepted, datatypes.BuildResponse{
		JobID:     job.ID,
		Status:    job.Status,
		StreamURL: "/v1/jobs/" + job.ID + "/stream",
	})
}

// HandleGetJob returns the current job snapshot.
func (a *API) HandleGetJob(c *gin.Context) {
	job, err := a.controller.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, badgerstore.ErrJobNotFound) {
		fail(c, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, "job lookup failed")
		return
	}
	c.JSON(http.StatusOK, job)
}

// HandleJobEvents returns a job's full ordered event history.
func (a *API) HandleJobEvents(c *gin.Context) {
	jobID := c.Param("id")
	if _, err := a.controller.Get(c.Request.Context(), jobID); err != nil {
		if errors.Is(err, badgerstore.ErrJobNotFound) {
			fail(c, http.StatusNotFound, "job not found")
			return
		}
		fail(c, http.StatusInternalServerError, "job lookup failed")
		return
	}

	history, err := a.store.ListEvents(c.Request.Context(), jobID)
	if err != nil {
		fail(c, http.StatusInternalServerError, "event history lookup failed")
		return
	}
	if history == nil {
		history = []datatypes.BuildEvent{}
	}
	c.JSON(http.StatusOK, gin.H{"job_id": jobID, "events": history})
}

// HandleCancel cancels a QUEUED or RUNNING job. Cancelling a finished
// job returns 409; re-cancelling a cancelled one is a 200 no-op.
func (a *API) HandleCancel(c *gin.Context) {
	job, changed, err := a.controller.Cancel(c.Request.Context(), c.Param("id"))
	if errors.Is(err, badgerstore.ErrJobNotFound) {
		fail(c, http.StatusNotFound, "job not found")
		return
	}
	if errors.Is(err, badgerstore.ErrTerminalState) {
		c.JSON(http.StatusConflict, gin.H{
			"error":  "job already finished",
			"status": job.Status,
		})
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, "cancel failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": job.Status, "changed": changed})
}

// HandleGetArtifact serves a stored artifact with its mime type.
func (a *API) HandleGetArtifact(c *gin.Context) {
	art, err := a.store.GetArtifact(c.Request.Context(), c.Param("id"))
	if errors.Is(err, badgerstore.ErrArtifactNotFound) {
		fail(c, http.StatusNotFound, "artifact not found")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, "artifact lookup failed")
		return
	}
	c.Data(http.StatusOK, art.MimeType, []byte(art.Content))
}

// HandleProjectSpecs returns a project's spec version history, oldest
// first.
func (a *API) HandleProjectSpecs(c *gin.Context) {
	versions, err := a.store.ListSpecVersions(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, http.StatusInternalServerError, "spec history lookup failed")
		return
	}
	if versions == nil {
		versions = []datatypes.SpecVersion{}
	}
	c.JSON(http.StatusOK, gin.H{"project_id": c.Param("id"), "versions": versions})
}
