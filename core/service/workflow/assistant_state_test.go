package workflow

import (
	"testing"

	json "github.com/goccy/go-json"

	"assistant_server/core/domain"
)

func TestStateHelpersTolerateJSONRoundTrip(t *testing.T) {
	state := map[string]any{
		keyBody:              "cleaned body",
		keySelectedFolderID:  int64(7),
		keyProposalMessageID: 101,
	}

	// Checkpointed state comes back through JSON: ints become float64.
	raw, err := json.Marshal(state)
	if err != nil {
		t.Fatal(err)
	}
	var rehydrated map[string]any
	if err := json.Unmarshal(raw, &rehydrated); err != nil {
		t.Fatal(err)
	}

	if s, ok := stateString(rehydrated, keyBody); !ok || s != "cleaned body" {
		t.Errorf("stateString = %q, %v", s, ok)
	}
	if v, ok := stateInt64(rehydrated, keySelectedFolderID); !ok || v != 7 {
		t.Errorf("stateInt64 = %d, %v", v, ok)
	}
	if v, ok := stateInt(rehydrated, keyProposalMessageID); !ok || v != 101 {
		t.Errorf("stateInt = %d, %v", v, ok)
	}

	if _, ok := stateString(rehydrated, "missing"); ok {
		t.Error("missing key should report absent")
	}
	if _, ok := stateInt64(rehydrated, keyBody); ok {
		t.Error("string value should not read as int64")
	}
}

func TestDecodeState(t *testing.T) {
	state := map[string]any{
		keyContext: &domain.RAGContext{
			ThreadHistory: []domain.EmailMessage{{MessageID: "m1", Body: "hello"}},
		},
	}

	var ctx domain.RAGContext
	if !decodeState(state, keyContext, &ctx) {
		t.Fatal("decodeState should succeed for a stored struct")
	}
	if len(ctx.ThreadHistory) != 1 || ctx.ThreadHistory[0].MessageID != "m1" {
		t.Errorf("unexpected decoded context: %+v", ctx)
	}

	if decodeState(state, "missing", &ctx) {
		t.Error("decodeState should report absence")
	}
	if decodeState(map[string]any{keyContext: nil}, keyContext, &ctx) {
		t.Error("decodeState should report nil values as absent")
	}
}
