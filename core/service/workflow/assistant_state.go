// Package workflow implements the durable per-email state machine:
// context extraction, classification, priority detection, the two
// human-in-the-loop interrupts, reply sending, label application and
// confirmation. State survives process restarts through checkpoints.
package workflow

import (
	"errors"

	json "github.com/goccy/go-json"
)

// Node names. The engine routes by these; checkpoints record them.
const (
	NodeExtractContext   = "extract_context"
	NodeClassify         = "classify"
	NodeDetectPriority   = "detect_priority"
	NodeSendProposal     = "send_proposal"
	NodeSendDraft        = "send_draft_notification"
	NodeSendEmail        = "send_email_response"
	NodeExecuteAction    = "execute_action"
	NodeSendConfirmation = "send_confirmation"

	nodeEnd = ""
)

// State keys. Values must round-trip through JSON: checkpointed state is
// rehydrated on resume, so numbers may come back as float64.
const (
	keyBody              = "body"
	keyContext           = "context"
	keyUserDecision      = "user_decision"
	keyDraftDecision     = "draft_decision"
	keySelectedFolderID  = "selected_folder_id"
	keyProposalMessageID = "proposal_message_id"
	keyDraftMessageID    = "draft_message_id"
)

// errInterrupt is the durable-pause sentinel. A node returns it after
// checkpointing everything a later resume needs; the engine unwinds the
// stack cleanly and a fresh call stack continues from the checkpoint.
var errInterrupt = errors.New("workflow interrupted")

// stateString reads a string value, tolerating absence.
func stateString(state map[string]any, key string) (string, bool) {
	v, ok := state[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// stateInt64 reads an integer value that may have been through JSON.
func stateInt64(state map[string]any, key string) (int64, bool) {
	switch v := state[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}

// stateInt is stateInt64 narrowed for chat message ids.
func stateInt(state map[string]any, key string) (int, bool) {
	v, ok := stateInt64(state, key)
	return int(v), ok
}

// decodeState rehydrates a structured value from checkpointed state by
// round-tripping through JSON. Returns false when the key is absent.
func decodeState(state map[string]any, key string, out any) bool {
	v, ok := state[key]
	if !ok || v == nil {
		return false
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}
