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

	"github.com/girderworks/boqd/services/boq/storage"
)

// CreateSession registers a new processing session for a user without an
// accompanying upload.
func CreateSession(store *storage.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input struct {
			UserID string `json:"user_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
			return
		}

		session, err := store.CreateSession(c.Request.Context(), input.UserID)
		if err != nil {
			slog.Error("Failed to create session", "user_id", input.UserID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
			return
		}
		slog.Info("Created session", "user_id", input.UserID, "session_id", session.SessionID)
		c.JSON(http.StatusOK, session)
	}
}

// ListSessions returns all sessions registered for the given user.
func ListSessions(store *storage.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Query("user_id")
		if userID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
			return
		}

		sessions, err := store.ListSessions(c.Request.Context(), userID)
		if err != nil {
			slog.Error("Failed to list sessions", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sessions"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": sessions})
	}
}
