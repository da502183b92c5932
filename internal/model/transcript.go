package model

// Transcript is the ordered conversation history for one conversation id.
// Insertion order is chronological and semantically meaningful.
type Transcript struct {
	Items []Item `json:"items"`
}

// Merge returns prior ++ next as a new transcript. Items are never
// reordered or deduplicated; the new turn always follows the old history.
func Merge(prior, next Transcript) Transcript {
	merged := make([]Item, 0, len(prior.Items)+len(next.Items))
	merged = append(merged, prior.Items...)
	merged = append(merged, next.Items...)
	return Transcript{Items: merged}
}

// WithoutHandoffs returns a copy with handoff markers removed. Handoffs are
// transient routing state and are stripped before a transcript leaves the
// worker.
func (t Transcript) WithoutHandoffs() Transcript {
	kept := make([]Item, 0, len(t.Items))
	for _, item := range t.Items {
		if item.Type == ItemTypeHandoff {
			continue
		}
		kept = append(kept, item)
	}
	return Transcript{Items: kept}
}

// Len returns the number of items.
func (t Transcript) Len() int {
	return len(t.Items)
}

// Stats summarizes a transcript for logging.
type Stats struct {
	Items        int
	UserMessages int
	ToolCalls    int
}

// Summarize counts user messages and tool calls in the transcript.
func (t Transcript) Summarize() Stats {
	s := Stats{Items: len(t.Items)}
	for _, item := range t.Items {
		switch item.Type {
		case ItemTypeMessage:
			if item.Role == RoleUser {
				s.UserMessages++
			}
		case ItemTypeFunctionCall:
			s.ToolCalls++
		case ItemTypeFunctionCallOutput, ItemTypeHandoff:
		}
	}
	return s
}
