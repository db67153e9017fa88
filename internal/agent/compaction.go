package agent

import "github.com/vela-systems/agentrt/pkg/models"

// compactionNotice is the synthetic system message inserted when earlier
// history is dropped. It is inserted at most once per compaction.
const compactionNotice = "Earlier conversation history was automatically compacted to fit the model's context window."

// compactMessages implements spec §4.1's compaction law:
//
//  1. Retain every System message that appears before the last User message.
//  2. Insert a synthetic System message stating earlier history was
//     auto-compacted, iff there is any pre-last-user history to drop.
//  3. Append the last User message and every message that follows it,
//     verbatim and in order.
//
// If no User message exists, the sequence is returned with all System
// messages first, unchanged otherwise. compactMessages is idempotent:
// compacting an already-compacted sequence returns an equal sequence.
func compactMessages(messages []models.ChatMessage) []models.ChatMessage {
	lastUser := -1
	for i, m := range messages {
		if m.Role == models.RoleUser {
			lastUser = i
		}
	}

	if lastUser == -1 {
		out := make([]models.ChatMessage, 0, len(messages))
		for _, m := range messages {
			if m.Role == models.RoleSystem {
				out = append(out, m)
			}
		}
		for _, m := range messages {
			if m.Role != models.RoleSystem {
				out = append(out, m)
			}
		}
		return out
	}

	var systemBefore []models.ChatMessage
	droppedNonSystem := false
	for i := 0; i < lastUser; i++ {
		if messages[i].Role == models.RoleSystem {
			systemBefore = append(systemBefore, messages[i])
		} else {
			droppedNonSystem = true
		}
	}

	needsNotice := droppedNonSystem || lastUser > len(systemBefore)

	out := make([]models.ChatMessage, 0, len(systemBefore)+1+len(messages)-lastUser)
	out = append(out, systemBefore...)
	if needsNotice {
		out = append(out, models.ChatMessage{Role: models.RoleSystem, Content: compactionNotice})
	}
	out = append(out, messages[lastUser:]...)
	return out
}
