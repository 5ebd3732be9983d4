package notify

import (
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

func TestRenderVerificationTemplate(t *testing.T) {
	data := VerificationData{
		AppName:         "Redpen",
		UserName:        "Test User",
		VerificationURL: "https://example.com/verify?token=abc123",
	}

	html, err := renderTemplate(verificationEmailTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(html, "Redpen") {
		t.Error("template should contain app name")
	}
	if !strings.Contains(html, "Test User") {
		t.Error("template should contain user name")
	}
	if !strings.Contains(html, "https://example.com/verify?token=abc123") {
		t.Error("template should contain verification URL")
	}
}

func TestRenderResetTemplate(t *testing.T) {
	data := ResetData{
		AppName:  "Redpen",
		UserName: "Test User",
		ResetURL: "https://example.com/reset-password?token=abc123",
	}

	html, err := renderTemplate(resetEmailTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(html, "Test User") {
		t.Error("template should contain user name")
	}
	if !strings.Contains(html, "https://example.com/reset-password?token=abc123") {
		t.Error("template should contain reset URL")
	}
}

func TestRenderCommentTemplates(t *testing.T) {
	data := CommentData{
		AppName:       "Redpen",
		ArtifactTitle: "Quarterly report",
		AuthorName:    "Pat",
		Excerpt:       "The revenue figure in section 2 looks off.",
	}

	for _, tmpl := range []string{commentEmailTemplate, replyEmailTemplate} {
		html, err := renderTemplate(tmpl, data)
		if err != nil {
			t.Fatalf("renderTemplate failed: %v", err)
		}
		if !strings.Contains(html, "Quarterly report") {
			t.Error("template should contain artifact title")
		}
		if !strings.Contains(html, "Pat") {
			t.Error("template should contain author name")
		}
		if !strings.Contains(html, "The revenue figure in section 2 looks off.") {
			t.Error("template should contain the excerpt")
		}
	}
}
