package approval

import (
	"strings"
	"testing"

	"assistant_server/core/domain"
)

func TestParseCallback(t *testing.T) {
	tests := []struct {
		data     string
		action   string
		emailID  int64
		folderID int64
		wantErr  bool
	}{
		{"approve_response_42", "approve", 42, 0, false},
		{"change_folder_response_7", "change_folder", 7, 0, false},
		{"reject_response_1", "reject", 1, 0, false},
		{"send_response_99", "send", 99, 0, false},
		{"edit_response_5", "edit", 5, 0, false},
		{"folder_12_response_42", "folder_", 42, 12, false},
		{"", "", 0, 0, true},
		{"approve", "", 0, 0, true},
		{"approve_response_", "", 0, 0, true},
		{"approve_response_abc", "", 0, 0, true},
		{"folder_x_response_42", "", 0, 0, true},
		{"_response_42", "", 0, 0, true},
	}

	for _, tt := range tests {
		cb, err := ParseCallback(tt.data)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseCallback(%q) expected error, got %+v", tt.data, cb)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseCallback(%q) unexpected error: %v", tt.data, err)
			continue
		}
		if cb.Action != tt.action || cb.EmailID != tt.emailID || cb.FolderID != tt.folderID {
			t.Errorf("ParseCallback(%q) = %+v, want action %q email %d folder %d",
				tt.data, cb, tt.action, tt.emailID, tt.folderID)
		}
	}
}

func TestKeyboardCallbacksRoundTrip(t *testing.T) {
	for _, row := range ProposalKeyboard(42) {
		for _, btn := range row {
			cb, err := ParseCallback(btn.CallbackData)
			if err != nil {
				t.Errorf("proposal button %q does not parse: %v", btn.CallbackData, err)
				continue
			}
			if cb.EmailID != 42 {
				t.Errorf("button %q parsed email id %d, want 42", btn.CallbackData, cb.EmailID)
			}
		}
	}

	folders := []domain.FolderCategory{{ID: 3, Name: "Invoices"}, {ID: 8, Name: "Travel"}}
	rows := FolderKeyboard(42, folders)
	if len(rows) != 2 {
		t.Fatalf("expected one row per folder, got %d", len(rows))
	}
	cb, err := ParseCallback(rows[1][0].CallbackData)
	if err != nil {
		t.Fatalf("folder button does not parse: %v", err)
	}
	if cb.FolderID != 8 || cb.EmailID != 42 {
		t.Errorf("folder button parsed %+v, want folder 8 email 42", cb)
	}
}

func TestRenderProposal(t *testing.T) {
	class := domain.ClassificationNeedsResponse
	draft := "Hello, ..."
	item := &domain.EmailQueueItem{
		ID:                      42,
		Sender:                  "alice@example.com",
		Subject:                 "Invoice 42",
		IsPriority:              true,
		ClassificationReasoning: "invoice from a known vendor",
		Classification:          &class,
		DraftResponse:           &draft,
	}

	text := RenderProposal(item, "Please find attached...", "Invoices")
	for _, want := range []string{
		"PRIORITY EMAIL",
		"alice@example.com",
		"Invoice 42",
		"Invoices",
		"invoice from a known vendor",
		"needs a response",
		"draft is ready",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("proposal missing %q:\n%s", want, text)
		}
	}

	plain := &domain.EmailQueueItem{Sender: "b@c.com", Subject: "fyi"}
	text = RenderProposal(plain, "", "Archive")
	if strings.Contains(text, "PRIORITY") || strings.Contains(text, "needs a response") {
		t.Errorf("plain proposal should have no priority or response markers:\n%s", text)
	}
}

func TestRenderConfirmation(t *testing.T) {
	item := &domain.EmailQueueItem{
		Sender:  "alice@example.com",
		Subject: "Invoice 42",
		Status:  domain.StatusResponseSent,
	}

	text := RenderConfirmation(item, "Invoices")
	if !strings.Contains(text, "Reply sent") || !strings.Contains(text, "Invoices") {
		t.Errorf("unexpected response_sent confirmation: %q", text)
	}

	item.Status = domain.StatusRejected
	text = RenderConfirmation(item, "")
	if !strings.Contains(text, "rejected") {
		t.Errorf("unexpected rejected confirmation: %q", text)
	}

	item.Status = domain.StatusCompleted
	text = RenderConfirmation(item, "Invoices")
	if !strings.Contains(text, "sorted into Invoices") {
		t.Errorf("unexpected completed confirmation: %q", text)
	}
}
