package email

import (
	"bytes"
	"strings"
	"testing"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{
			name:     "empty config",
			config:   Config{},
			expected: false,
		},
		{
			name: "missing host",
			config: Config{
				Port: "587",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing port",
			config: Config{
				Host: "smtp.example.com",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing from",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
			},
			expected: false,
		},
		{
			name: "fully configured",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
				From: "test@example.com",
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

func TestSendFailsWhenUnconfigured(t *testing.T) {
	svc := NewService(Config{})
	if err := svc.SendVerificationEmail("a@example.com", "Avery", "https://example.com/verify"); err == nil {
		t.Fatal("expected error sending without SMTP config")
	}
}

func TestVerificationCopyCarriesLinkAndExpiry(t *testing.T) {
	data := message{UserName: "Avery", ActionURL: "https://example.com/verify-email?token=abc123", Expiry: "24 hours"}

	var text, html bytes.Buffer
	if err := verifyText.Execute(&text, data); err != nil {
		t.Fatalf("text template: %v", err)
	}
	if err := verifyHTML.Execute(&html, data); err != nil {
		t.Fatalf("html template: %v", err)
	}

	for name, body := range map[string]string{"text": text.String(), "html": html.String()} {
		if !strings.Contains(body, "Avery") {
			t.Errorf("%s part misses user name", name)
		}
		if !strings.Contains(body, "https://example.com/verify-email?token=abc123") {
			t.Errorf("%s part misses verification link", name)
		}
		if !strings.Contains(body, "24 hours") {
			t.Errorf("%s part misses expiry", name)
		}
	}
}

func TestResetCopyCarriesLinkAndExpiry(t *testing.T) {
	data := message{UserName: "Avery", ActionURL: "https://example.com/reset-password?token=xyz789", Expiry: "1 hour"}

	var text, html bytes.Buffer
	if err := resetText.Execute(&text, data); err != nil {
		t.Fatalf("text template: %v", err)
	}
	if err := resetHTML.Execute(&html, data); err != nil {
		t.Fatalf("html template: %v", err)
	}

	for name, body := range map[string]string{"text": text.String(), "html": html.String()} {
		if !strings.Contains(body, "https://example.com/reset-password?token=xyz789") {
			t.Errorf("%s part misses reset link", name)
		}
		if !strings.Contains(body, "1 hour") {
			t.Errorf("%s part misses expiry", name)
		}
	}
}

func TestHTMLPartEscapesUserName(t *testing.T) {
	data := message{UserName: "<script>", ActionURL: "https://example.com/x", Expiry: "1 hour"}
	var html bytes.Buffer
	if err := verifyHTML.Execute(&html, data); err != nil {
		t.Fatalf("html template: %v", err)
	}
	if strings.Contains(html.String(), "<script>") {
		t.Fatal("user name must be escaped in the html part")
	}
}
