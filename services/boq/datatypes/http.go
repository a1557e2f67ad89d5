// Copyright (C) 2025 Girderworks (engineering@girderworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// QueryInput is the request body for a direct, non-pipeline agent query
// within an existing session.
type QueryInput struct {
	UserID    string `json:"user_id" binding:"required"`
	SessionID string `json:"session_id" binding:"required"`
	Message   string `json:"message" binding:"required"`
}

// QueryResponse carries the aggregated agent response for a direct query.
type QueryResponse struct {
	Response string `json:"response"`
}

// UploadResponse acknowledges a document submission. Processing continues in
// the background; callers poll the per-unit endpoints with the session id.
type UploadResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
}
