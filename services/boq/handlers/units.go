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

	"github.com/girderworks/boqd/services/boq/datatypes"
	"github.com/girderworks/boqd/services/boq/storage"
)

// GetUnit serves /v1/units/:name. Unknown unit names are a 404; a known
// unit with no record yet returns the pending default, never an error.
func GetUnit(store *storage.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := datatypes.UnitName(c.Param("name"))
		if !datatypes.IsExpectedUnit(name) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown unit name"})
			return
		}
		fetchUnit(c, store, name)
	}
}

// GetNamedUnit builds the handler for a fixed per-unit route, e.g.
// GET /component_geometry.
func GetNamedUnit(store *storage.Store, name datatypes.UnitName) gin.HandlerFunc {
	return func(c *gin.Context) {
		fetchUnit(c, store, name)
	}
}

func fetchUnit(c *gin.Context, store *storage.Store, name datatypes.UnitName) {
	userID := c.Query("user_id")
	sessionID := c.Query("session_id")
	if userID == "" || sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and session_id are required"})
		return
	}

	run := datatypes.RunKey{UserID: userID, SessionID: sessionID}
	result, err := store.Fetch(c.Request.Context(), run, name)
	if err != nil {
		slog.Error("Failed to fetch unit record",
			"unit", name,
			"user_id", userID,
			"session_id", sessionID,
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch unit"})
		return
	}
	c.JSON(http.StatusOK, result)
}
