package gateway

import (
	"fmt"
	"strings"
)

const sessionKeyPrefix = "agent"

// SessionKeyFor derives the execution session key binding a task's prompts
// into one gateway conversation. The derivation is deterministic so a restart
// re-joins the same conversation.
func SessionKeyFor(agentID, taskID string) string {
	return fmt.Sprintf("%s:%s:task-%s", sessionKeyPrefix, strings.ToLower(strings.TrimSpace(agentID)), taskID)
}

// AgentIDFromSessionKey recovers the agent token from an agent-scoped session
// key of the form "agent:{agentId}:{rest}". Returns "" for other keys.
func AgentIDFromSessionKey(key string) string {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 3 || parts[0] != sessionKeyPrefix {
		return ""
	}
	return parts[1]
}
