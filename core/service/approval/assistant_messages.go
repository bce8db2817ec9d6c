// Package approval is the human interface of the pipeline: it renders
// sorting proposals and reply drafts as chat messages, maps button
// callbacks back to parked workflow runs, and keeps delivery reliable
// through a retry/truncate/manual-queue cascade.
package approval

import (
	"fmt"
	"strconv"
	"strings"

	"assistant_server/core/domain"
	"assistant_server/core/port/out"
	"assistant_server/pkg/apperr"
)

// Callback action tokens. The wire format is {action}_response_{email_id};
// folder picks carry the folder id inside the action token.
const (
	cbApprove      = "approve"
	cbChangeFolder = "change_folder"
	cbReject       = "reject"
	cbSend         = "send"
	cbEdit         = "edit"
	cbFolderPrefix = "folder_"

	cbSeparator = "_response_"
)

// Callback is a parsed button press.
type Callback struct {
	Action   string
	EmailID  int64
	FolderID int64 // set for folder picks only
}

// ParseCallback parses {action}_response_{email_id} callback data.
func ParseCallback(data string) (*Callback, error) {
	idx := strings.LastIndex(data, cbSeparator)
	if idx <= 0 {
		return nil, apperr.ValidationFailed("malformed callback data " + data)
	}
	action := data[:idx]
	emailID, err := strconv.ParseInt(data[idx+len(cbSeparator):], 10, 64)
	if err != nil {
		return nil, apperr.ValidationFailed("malformed callback email id in " + data)
	}

	cb := &Callback{Action: action, EmailID: emailID}
	if strings.HasPrefix(action, cbFolderPrefix) {
		folderID, err := strconv.ParseInt(action[len(cbFolderPrefix):], 10, 64)
		if err != nil {
			return nil, apperr.ValidationFailed("malformed folder id in " + data)
		}
		cb.Action = cbFolderPrefix
		cb.FolderID = folderID
	}
	return cb, nil
}

func callbackData(action string, emailID int64) string {
	return fmt.Sprintf("%s%s%d", action, cbSeparator, emailID)
}

// RenderProposal builds the sorting proposal text: priority header,
// sender, subject, body preview, proposed folder, reasoning and markers.
func RenderProposal(item *domain.EmailQueueItem, bodyPreview, folderName string) string {
	var sb strings.Builder

	if item.IsPriority {
		sb.WriteString("⚠️ PRIORITY EMAIL\n\n")
	}
	fmt.Fprintf(&sb, "📧 From: %s\n", item.Sender)
	fmt.Fprintf(&sb, "Subject: %s\n", item.Subject)
	if bodyPreview != "" {
		fmt.Fprintf(&sb, "\n%s\n", bodyPreview)
	}
	fmt.Fprintf(&sb, "\n📁 Proposed folder: %s\n", folderName)
	if item.ClassificationReasoning != "" {
		fmt.Fprintf(&sb, "💡 %s\n", item.ClassificationReasoning)
	}
	if item.NeedsResponse() {
		sb.WriteString("\n✍️ This email needs a response.")
		if item.HasDraft() {
			sb.WriteString(" A draft is ready.")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// ProposalKeyboard is the Approve / Change folder / Reject row.
func ProposalKeyboard(emailID int64) [][]out.ChatButton {
	return [][]out.ChatButton{{
		{Text: "✅ Approve", CallbackData: callbackData(cbApprove, emailID)},
		{Text: "📁 Change folder", CallbackData: callbackData(cbChangeFolder, emailID)},
		{Text: "❌ Reject", CallbackData: callbackData(cbReject, emailID)},
	}}
}

// FolderKeyboard is the expanded folder picker, one folder per row.
func FolderKeyboard(emailID int64, folders []domain.FolderCategory) [][]out.ChatButton {
	rows := make([][]out.ChatButton, 0, len(folders))
	for _, f := range folders {
		rows = append(rows, []out.ChatButton{{
			Text:         f.Name,
			CallbackData: callbackData(fmt.Sprintf("%s%d", cbFolderPrefix, f.ID), emailID),
		}})
	}
	return rows
}

// RenderDraft builds the draft approval message.
func RenderDraft(item *domain.EmailQueueItem) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "✍️ Reply draft\n\nTo: %s\nSubject: Re: %s\n", item.Sender, item.Subject)
	tone := string(domain.ToneProfessional)
	if item.Tone != nil {
		tone = string(*item.Tone)
	}
	fmt.Fprintf(&sb, "(Language: %s, Tone: %s)\n", item.DetectedLanguage, tone)
	sb.WriteString("\n────────────\n")
	if item.DraftResponse != nil {
		sb.WriteString(*item.DraftResponse)
	}
	sb.WriteString("\n────────────\n")
	return sb.String()
}

// DraftKeyboard is Send on its own row, Edit/Reject below.
func DraftKeyboard(emailID int64) [][]out.ChatButton {
	return [][]out.ChatButton{
		{{Text: "✅ Send", CallbackData: callbackData(cbSend, emailID)}},
		{
			{Text: "✏ Edit", CallbackData: callbackData(cbEdit, emailID)},
			{Text: "❌ Reject", CallbackData: callbackData(cbReject, emailID)},
		},
	}
}

// RenderError builds the hard-failure message sent when a workflow
// exhausted its retries.
func RenderError(item *domain.EmailQueueItem) string {
	var sb strings.Builder

	sb.WriteString("⚠️ Email Processing Error\n\n")
	fmt.Fprintf(&sb, "From: %s\n", item.Sender)
	fmt.Fprintf(&sb, "Subject: %s\n", item.Subject)
	if item.ErrorMessage != nil {
		fmt.Fprintf(&sb, "Error: %s\n", *item.ErrorMessage)
	}
	fmt.Fprintf(&sb, "\nUse /retry %d to try again manually.", item.ID)
	return sb.String()
}

// RenderConfirmation builds the final one-message summary.
func RenderConfirmation(item *domain.EmailQueueItem, folderName string) string {
	switch item.Status {
	case domain.StatusResponseSent:
		if folderName != "" {
			return fmt.Sprintf("✅ Reply sent to %s and email sorted into %s.", item.Sender, folderName)
		}
		return fmt.Sprintf("✅ Reply sent to %s.", item.Sender)
	case domain.StatusRejected:
		return fmt.Sprintf("🚫 Proposal for %q rejected. The email was left untouched.", item.Subject)
	default:
		if folderName != "" {
			return fmt.Sprintf("✅ Email %q sorted into %s.", item.Subject, folderName)
		}
		return fmt.Sprintf("✅ Email %q processed.", item.Subject)
	}
}
