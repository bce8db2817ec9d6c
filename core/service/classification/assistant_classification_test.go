package classification

import (
	"testing"
)

func TestIsAutomatedSender(t *testing.T) {
	tests := []struct {
		sender    string
		automated bool
	}{
		{"noreply@github.com", true},
		{"no-reply@linkedin.com", true},
		{"donotreply@bank.com", true},
		{"notifications@slack.com", true},
		{"newsletter@medium.com", true},
		{"noreply+tag@service.com", true},
		{"GitHub <noreply@github.com>", true},
		{"alerts@monitoring.io", true},
		{"promo@send.grammarly.com", true},
		{"deals@email.shop.example.com", true},
		{"info@marketing.vendor.com", true},
		{"alice@example.com", false},
		{"Bob Smith <bob@company.de>", false},
		{"support@company.com", false},
		// "notifier" is not "notifications"; prefix match requires "+"
		{"notifier@company.com", false},
		{"steuer@finanzamt.gov.de", false},
	}

	for _, tt := range tests {
		if got := IsAutomatedSender(tt.sender); got != tt.automated {
			t.Errorf("IsAutomatedSender(%q) = %v, want %v", tt.sender, got, tt.automated)
		}
	}
}

func TestPriorityScore(t *testing.T) {
	d := NewPriorityDetector(0) // default threshold

	tests := []struct {
		name            string
		sender          string
		subject         string
		body            string
		prioritySenders []string
		want            int
	}{
		{
			name:   "plain email scores zero",
			sender: "alice@example.com", subject: "lunch", body: "tomorrow?",
			want: 0,
		},
		{
			name:   "government domain",
			sender: "office@tax.gov", subject: "notice", body: "",
			want: 50,
		},
		{
			name:   "french government domain",
			sender: "impots@dgfip.gouv.fr", subject: "avis", body: "",
			want: 50,
		},
		{
			name:   "priority sender exact address",
			sender: "Boss <boss@company.com>", subject: "q3", body: "",
			prioritySenders: []string{"boss@company.com"},
			want:            40,
		},
		{
			name:   "priority sender by domain",
			sender: "anyone@company.com", subject: "hi", body: "",
			prioritySenders: []string{"company.com"},
			want:            40,
		},
		{
			name:   "priority sender by domain suffix",
			sender: "dev@mail.company.com", subject: "hi", body: "",
			prioritySenders: []string{"company.com"},
			want:            40,
		},
		{
			name:   "urgency keyword in subject",
			sender: "alice@example.com", subject: "URGENT: server down", body: "",
			want: 30,
		},
		{
			name:   "urgency keyword in body, russian",
			sender: "alice@example.com", subject: "вопрос", body: "это срочно, ответьте",
			want: 30,
		},
		{
			name:   "keywords count once",
			sender: "alice@example.com", subject: "urgent deadline", body: "asap",
			want: 30,
		},
		{
			name:   "government plus urgency crosses threshold",
			sender: "office@finanzamt.gov.de", subject: "Zahlung dringend", body: "",
			want: 80,
		},
		{
			name:   "priority sender plus urgency crosses threshold",
			sender: "boss@company.com", subject: "need this asap", body: "",
			prioritySenders: []string{"boss@company.com"},
			want:            70,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.Score(tt.sender, tt.subject, tt.body, tt.prioritySenders)
			if got != tt.want {
				t.Errorf("Score() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPriorityThreshold(t *testing.T) {
	d := NewPriorityDetector(0)

	if d.IsPriority(69) {
		t.Error("69 should be below the default threshold")
	}
	if !d.IsPriority(70) {
		t.Error("70 should cross the default threshold")
	}

	custom := NewPriorityDetector(40)
	score, isPriority := custom.Detect("boss@company.com", "hi", "", []string{"boss@company.com"})
	if score != 40 {
		t.Errorf("expected score 40, got %d", score)
	}
	if !isPriority {
		t.Error("score 40 should cross a threshold of 40")
	}
}
