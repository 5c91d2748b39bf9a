// Copyright (C) 2025 Nirman AI (deveshjha247@gmail.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/deveshjha247/Nirman/handlers"
)

// SetupRoutes wires the HTTP surface onto the router.
func SetupRoutes(router *gin.Engine, api *handlers.API) {
	router.Use(otelgin.Middleware("nirman"))

	router.GET("/healthz", api.HandleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/build", api.HandleBuild)

		jobs := v1.Group("/jobs")
		{
			jobs.GET("/:id", api.HandleGetJob)
			jobs.GET("/:id/events", api.HandleJobEvents)
			jobs.GET("/:id/stream", api.HandleStream)
			jobs.POST("/:id/cancel", api.HandleCancel)
		}

		v1.GET("/artifacts/:id", api.HandleGetArtifact)
		v1.GET("/projects/:id/specs", api.HandleProjectSpecs)

		learning := v1.Group("/learning")
		{
			learning.GET("/preferences/:user_id", api.HandleGetPreferences)
			learning.GET("/insights/:user_id", api.HandleGetInsights)
			learning.GET("/config/:user_id", api.HandleGetLearningConfig)
			learning.PUT("/config/:user_id", api.HandlePutLearningConfig)
		}
	}
}
