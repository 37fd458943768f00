package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderStatusConnected(t *testing.T) {
	var status statusView
	status.Gateway.State = "connected"
	status.BusyAgents = []string{"dev"}
	status.TaskCounts = map[string]int{"queued": 2}

	var buf bytes.Buffer
	renderStatus(&buf, &status)
	out := buf.String()

	assert.Contains(t, out, "connected")
	assert.Contains(t, out, "Paused:   no")
	assert.Contains(t, out, "dev")
	assert.Contains(t, out, "queued:2")
}

func TestRenderStatusDisconnectedAndPaused(t *testing.T) {
	var status statusView
	status.Gateway.State = "disconnected"
	status.Gateway.Reason = "handshake failed"
	status.Paused = true
	status.PauseReason = "recurring issue: rate_limited"

	var buf bytes.Buffer
	renderStatus(&buf, &status)
	out := buf.String()

	assert.Contains(t, out, "disconnected")
	assert.Contains(t, out, "(handshake failed)")
	assert.Contains(t, out, "yes (recurring issue: rate_limited)")
}
