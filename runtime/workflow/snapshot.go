package workflow

import (
	"encoding/json"
	"fmt"
)

// Snapshot returns a deep copy of the workflow captured for one execution.
// Later edits to the live workflow never affect the copy, which is what the
// execution history stores and what inspection endpoints read back.
//
// The copy goes through JSON so nested parameter maps are duplicated rather
// than aliased. Workflows are JSON documents by construction, so the round
// trip is lossless.
func (w *Workflow) Snapshot() (*Workflow, error) {
	raw, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("snapshot workflow %q: %w", w.ID, err)
	}
	var copied Workflow
	if err := json.Unmarshal(raw, &copied); err != nil {
		return nil, fmt.Errorf("snapshot workflow %q: %w", w.ID, err)
	}
	return &copied, nil
}
