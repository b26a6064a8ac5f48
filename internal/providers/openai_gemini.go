package providers

// collapseToolCallsWithoutSig strips tool_call cycles that lack a
// thought_signature (required by Gemini 2.5+). History recorded before we
// started capturing thought_signature doesn't have it, and Gemini rejects
// those messages with HTTP 400.
//
// The assistant's original text content (if any) is preserved; only the
// tool_calls and their corresponding tool-result messages are dropped.
func collapseToolCallsWithoutSig(msgs []Message) []Message {
	collapseIDs := make(map[string]bool)
	for _, m := range msgs {
		if m.Role != "assistant" || len(m.ToolCalls) == 0 {
			continue
		}
		for _, tc := range m.ToolCalls {
			if tc.Metadata["thought_signature"] == "" {
				for _, tc2 := range m.ToolCalls {
					collapseIDs[tc2.ID] = true
				}
				break
			}
		}
	}
	if len(collapseIDs) == 0 {
		return msgs
	}

	result := make([]Message, 0, len(msgs))
	for i := 0; i < len(msgs); i++ {
		m := msgs[i]

		if m.Role == "assistant" && len(m.ToolCalls) > 0 && collapseIDs[m.ToolCalls[0].ID] {
			if m.Content != "" {
				result = append(result, Message{Role: "assistant", Content: m.Content})
			}

			for i+1 < len(msgs) && msgs[i+1].Role == "tool" && collapseIDs[msgs[i+1].ToolCallID] {
				i++
			}
			continue
		}

		if m.Role == "tool" && collapseIDs[m.ToolCallID] {
			continue
		}

		result = append(result, m)
	}
	return result
}
