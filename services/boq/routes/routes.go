// Copyright (C) 2025 Girderworks (engineering@girderworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/girderworks/boqd/services/agents"
	"github.com/girderworks/boqd/services/boq/datatypes"
	"github.com/girderworks/boqd/services/boq/handlers"
	"github.com/girderworks/boqd/services/boq/pipeline"
	"github.com/girderworks/boqd/services/boq/storage"
)

func SetupRoutes(router *gin.Engine, store *storage.Store, orc *pipeline.Orchestrator,
	llmClient agents.LLMClient, uploadDir string) {

	router.GET("/health", handlers.Health())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/upload", handlers.Upload(store, orc, uploadDir))
	router.POST("/create_session", handlers.CreateSession(store))
	router.GET("/list_sessions", handlers.ListSessions(store))
	router.POST("/query", handlers.Query(llmClient))

	// Legacy flat per-unit routes, one per expected unit.
	for _, name := range datatypes.ExpectedUnits() {
		router.GET("/"+string(name), handlers.GetNamedUnit(store, name))
	}

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.GET("/units/:name", handlers.GetUnit(store))
	}
}
