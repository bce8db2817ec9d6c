package response

import (
	"testing"

	"assistant_server/core/domain"
)

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"english", "Hello, thank you for your message. Best regards, John", "en"},
		{"german", "Sehr geehrte Damen und Herren, ich danke Ihnen für die Nachricht. Mit freundlichen Grüßen", "de"},
		{"french", "Bonjour, merci pour votre message. Nous vous répondrons avec plaisir. Cordialement", "fr"},
		{"spanish", "Hola, gracias por su mensaje. Usted recibirá una respuesta pronto. Saludos", "es"},
		{"russian cyrillic script", "Здравствуйте! Спасибо за ваше письмо, мы ответим как можно скорее.", "ru"},
		{"japanese kana", "こんにちは。メッセージありがとうございます。よろしくお願いします。", "ja"},
		{"korean hangul", "안녕하세요. 메시지 감사합니다. 곧 답변 드리겠습니다.", "ko"},
		{"chinese han only", "您好，感谢您的来信，我们会尽快回复。", "zh"},
		{"empty falls back to english", "", "en"},
		{"numbers only fall back to english", "12345 67890", "en"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectLanguage(tt.text); got != tt.want {
				t.Errorf("DetectLanguage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetectLanguageMixedScript(t *testing.T) {
	// A Russian reply quoting a short English line: the dominant script wins.
	text := "Здравствуйте, спасибо за письмо! Отвечаю на ваш вопрос ниже. > ok"
	if got := DetectLanguage(text); got != "ru" {
		t.Errorf("expected dominant script to win, got %q", got)
	}
}

func TestDetectTone(t *testing.T) {
	tests := []struct {
		name    string
		sender  string
		subject string
		body    string
		want    domain.Tone
	}{
		{"government sender is formal", "office@finanzamt.gov.de", "hey there", "hey!", domain.ToneFormal},
		{"university sender is formal", "prof@university.edu", "question", "hi", domain.ToneFormal},
		{"formal marker in body", "a@b.com", "request", "Dear Sir or Madam, I write to inquire...", domain.ToneFormal},
		{"german formal marker", "a@b.de", "Anfrage", "Sehr geehrte Frau Müller, ...", domain.ToneFormal},
		{"casual marker", "friend@gmail.com", "party", "hey, btw are you coming? :)", domain.ToneCasual},
		{"default professional", "client@company.com", "contract", "Please review the attached contract.", domain.ToneProfessional},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectTone(tt.sender, tt.subject, tt.body); got != tt.want {
				t.Errorf("DetectTone() = %q, want %q", got, tt.want)
			}
		})
	}
}
