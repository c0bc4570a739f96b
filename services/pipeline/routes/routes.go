// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/LabInsights/services/pipeline/blobstore"
	"github.com/AleutianAI/LabInsights/services/pipeline/bus"
	"github.com/AleutianAI/LabInsights/services/pipeline/engine"
	"github.com/AleutianAI/LabInsights/services/pipeline/handlers"
	"github.com/AleutianAI/LabInsights/services/pipeline/observability"
	"github.com/AleutianAI/LabInsights/services/pipeline/store"
)

// SetupRoutes registers the full HTTP surface of the pipeline service.
func SetupRoutes(
	router *gin.Engine,
	records store.RecordStore,
	objects blobstore.ObjectStore,
	pipelines *engine.Orchestrator,
	events *bus.ProgressBus,
	metrics *observability.PipelineMetrics,
) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/api/v1")
	{
		documents := v1.Group("/documents")
		{
			documents.POST("/upload", handlers.UploadDocument(records, objects, pipelines))
			documents.GET("", handlers.ListDocuments(records))
			documents.GET("/:id", handlers.GetDocument(records))
			documents.DELETE("/:id", handlers.DeleteDocument(records, objects, pipelines))
			documents.POST("/:id/retry", handlers.RetryDocument(records, objects, pipelines, events))
			documents.GET("/:id/stream", handlers.StreamProgress(records, events, metrics))
		}
	}
}
