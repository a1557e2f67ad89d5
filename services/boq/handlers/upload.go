// Copyright (C) 2025 Girderworks (engineering@girderworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the HTTP surface of the boqd service.
package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/girderworks/boqd/services/boq/datatypes"
	"github.com/girderworks/boqd/services/boq/pipeline"
	"github.com/girderworks/boqd/services/boq/storage"
)

// Upload accepts a multipart document submission, registers a session, and
// starts the pipeline in the background. The response returns immediately
// with the session identity; callers poll the unit endpoints for progress.
func Upload(store *storage.Store, orc *pipeline.Orchestrator, uploadDir string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.PostForm("user_id")
		if userID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
			return
		}

		file, err := c.FormFile("file")
		if err != nil {
			slog.Warn("Upload request missing file", "user_id", userID, "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
			return
		}

		// Staged under a fresh name so concurrent uploads of the same
		// filename never collide.
		stagedPath := filepath.Join(uploadDir,
			fmt.Sprintf("%s_%s", uuid.New().String(), filepath.Base(file.Filename)))
		if err := c.SaveUploadedFile(file, stagedPath); err != nil {
			slog.Error("Failed to stage upload", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store upload"})
			return
		}

		session, err := store.CreateSession(c.Request.Context(), userID)
		if err != nil {
			slog.Error("Failed to create session", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
			return
		}

		run := datatypes.RunKey{UserID: userID, SessionID: session.SessionID}
		slog.Info("Accepted document for processing",
			"user_id", userID,
			"session_id", session.SessionID,
			"filename", file.Filename,
		)

		// The run outlives the request; it owns the staged file and deletes
		// it when finished.
		go orc.ProcessDocument(context.Background(), run, stagedPath)

		c.JSON(http.StatusAccepted, datatypes.UploadResponse{
			Status:    "processing",
			SessionID: session.SessionID,
		})
	}
}
