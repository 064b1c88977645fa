package service

import (
	"strings"
	"testing"

	"github.com/spf13/afero"
)

func TestTemplateRenderer_Defaults(t *testing.T) {
	renderer, err := NewTemplateRenderer(afero.NewMemMapFs(), "")
	if err != nil {
		t.Fatalf("NewTemplateRenderer() error = %v", err)
	}

	msg, err := renderer.Render("code.password_reset", map[string]string{
		"code":    "483920",
		"minutes": "10",
	})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if msg.Subject == "" {
		t.Error("subject should not be empty")
	}
	if !strings.Contains(msg.Body, "483920") || !strings.Contains(msg.Body, "10 分钟") {
		t.Errorf("body not rendered: %q", msg.Body)
	}
	if strings.Contains(msg.Body, "{{") {
		t.Errorf("placeholder left in body: %q", msg.Body)
	}
}

func TestTemplateRenderer_EveryPurposeHasTemplate(t *testing.T) {
	renderer, err := NewTemplateRenderer(afero.NewMemMapFs(), "")
	if err != nil {
		t.Fatalf("NewTemplateRenderer() error = %v", err)
	}
	names := []string{
		"code.register", "code.password_reset", "code.email_unbind", "code.weapp_rebind",
		"code.security_email", "code.email_login", "code.account_change_cancel", "sms.code",
		"account_change.requested", "account_change.cancelled", "account_change.approved",
		"account_change.rejected", "admin.account_change",
	}
	for _, name := range names {
		if !renderer.Has(name) {
			t.Errorf("missing template %s", name)
		}
	}
}

func TestTemplateRenderer_Override(t *testing.T) {
	fsys := afero.NewMemMapFs()
	content := "sms.code:\n  body: \"code={{code}} missing={{nope}}\"\n"
	if err := afero.WriteFile(fsys, "/etc/kimochi/messages.yaml", []byte(content), 0o644); err != nil {
		t.Fatalf("write override: %v", err)
	}

	renderer, err := NewTemplateRenderer(fsys, "/etc/kimochi/messages.yaml")
	if err != nil {
		t.Fatalf("NewTemplateRenderer() error = %v", err)
	}
	msg, err := renderer.Render("sms.code", map[string]string{"code": "123456"})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if msg.Body != "code=123456 missing=" {
		t.Errorf("Render() body = %q", msg.Body)
	}

	// 未覆盖的条目保留内置内容
	if !renderer.Has("code.register") {
		t.Error("default template dropped by override")
	}
}

func TestTemplateRenderer_MissingOverrideFile(t *testing.T) {
	if _, err := NewTemplateRenderer(afero.NewMemMapFs(), "/nope.yaml"); err == nil {
		t.Fatal("expected error for missing override file")
	}
}

func TestTemplateRenderer_UnknownTemplate(t *testing.T) {
	renderer, err := NewTemplateRenderer(afero.NewMemMapFs(), "")
	if err != nil {
		t.Fatalf("NewTemplateRenderer() error = %v", err)
	}
	if _, err := renderer.Render("nope", nil); err == nil {
		t.Fatal("expected error for unknown template")
	}
}
