// Copyright (C) 2025 Girderworks (engineering@girderworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/girderworks/boqd/services/agents"
	"github.com/girderworks/boqd/services/boq/datatypes"
)

// Query answers a direct question against the agent backend within an
// existing session. It bypasses the extraction pipeline entirely; nothing
// is persisted.
func Query(client agents.LLMClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input datatypes.QueryInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id, session_id, and message are required"})
			return
		}

		slog.Info("Received direct query",
			"user_id", input.UserID,
			"session_id", input.SessionID,
		)
		response, err := client.Generate(c.Request.Context(), input.Message, agents.GenerationParams{})
		if err != nil {
			slog.Error("Direct query failed", "user_id", input.UserID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
			return
		}
		c.JSON(http.StatusOK, datatypes.QueryResponse{Response: response})
	}
}
