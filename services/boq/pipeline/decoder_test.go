// Copyright (C) 2025 Girderworks (engineering@girderworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent_PlainJSON(t *testing.T) {
	payload, err := DecodeEvent(`{"pile_details": {"count": 12}}`)
	require.NoError(t, err)
	assert.Contains(t, payload, "pile_details")
}

func TestDecodeEvent_FencedEqualsUnfenced(t *testing.T) {
	plain := `{"material_specs": [{"grade": "M40"}]}`
	fenced := "```json\n" + plain + "\n```"

	fromPlain, err := DecodeEvent(plain)
	require.NoError(t, err)
	fromFenced, err := DecodeEvent(fenced)
	require.NoError(t, err)

	assert.Equal(t, fromPlain, fromFenced)
}

func TestDecodeEvent_BareFence(t *testing.T) {
	payload, err := DecodeEvent("```\n{\"boq\": []}\n```")
	require.NoError(t, err)
	assert.Contains(t, payload, "boq")
}

func TestDecodeEvent_SurroundingWhitespace(t *testing.T) {
	payload, err := DecodeEvent("  \n\t{\"validation\": \"pass\"}\n  ")
	require.NoError(t, err)
	assert.Equal(t, "pass", payload["validation"])
}

func TestDecodeEvent_InvalidJSON(t *testing.T) {
	_, err := DecodeEvent("the model apologizes and returns prose")
	assert.Error(t, err)
}

func TestDecodeEvent_NonObjectJSON(t *testing.T) {
	_, err := DecodeEvent(`["a", "b"]`)
	assert.Error(t, err)
}

func TestDecodeEvent_EmptyInput(t *testing.T) {
	_, err := DecodeEvent("")
	assert.Error(t, err)
}
