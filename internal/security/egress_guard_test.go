package security

import (
	"testing"
	"time"
)

func TestNewSafeClient(t *testing.T) {
	guard := NewEgressGuard()
	client := guard.NewSafeClient(5 * time.Second)

	if client == nil {
		t.Fatal("NewSafeClientはnilでないクライアントを返すべき")
	}
	if client.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want %v", client.Timeout, 5*time.Second)
	}
}

func TestValidateBaseURL_Allowed(t *testing.T) {
	guard := NewEgressGuard()

	allowed := []string{
		"https://world.openfoodfacts.org",
		"https://api.nal.usda.gov/fdc/v1",
		"http://example.com/path",
		"https://8.8.8.8/api",
	}
	for _, rawURL := range allowed {
		if err := guard.ValidateBaseURL(rawURL); err != nil {
			t.Errorf("ValidateBaseURL(%q) = %v, want nil", rawURL, err)
		}
	}
}

func TestValidateBaseURL_Blocked(t *testing.T) {
	guard := NewEgressGuard()

	tests := []struct {
		name   string
		rawURL string
	}{
		{"空のURL", ""},
		{"不正なスキーム", "ftp://example.com"},
		{"fileスキーム", "file:///etc/passwd"},
		{"ループバックIP", "http://127.0.0.1/admin"},
		{"localhost", "http://localhost:8080"},
		{"プライベートIP 10系", "http://10.0.0.5/internal"},
		{"プライベートIP 172系", "http://172.16.0.1"},
		{"プライベートIP 192系", "http://192.168.1.1"},
		{"メタデータIP", "http://169.254.169.254/latest/meta-data/"},
		{"IPv6ループバック", "http://[::1]/admin"},
		{"ホストなし", "https://"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := guard.ValidateBaseURL(tt.rawURL); err == nil {
				t.Errorf("ValidateBaseURL(%q) = nil, want error", tt.rawURL)
			}
		})
	}
}
