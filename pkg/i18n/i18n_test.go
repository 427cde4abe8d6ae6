package i18n

import (
	"fmt"
	"testing"
)

func TestSetLanguageSwitchesMessages(t *testing.T) {
	t.Cleanup(func() { SetLanguage(LangEN) })

	SetLanguage(LangZH)
	if GetLanguage() != LangZH {
		t.Fatalf("language = %s", GetLanguage())
	}
	if got := StatusLabel("settled"); got != "已結算" {
		t.Fatalf("StatusLabel = %q", got)
	}
	if got := fmt.Sprintf(M().ReceiptApplied, "100", "USD", "alice"); got != "已入帳：收到 alice 的 100 USD" {
		t.Fatalf("ReceiptApplied = %q", got)
	}

	SetLanguage("fr")
	if got := Get("StatusPartial"); got != "partially settled" {
		t.Fatalf("unknown language should fall back to English, got %q", got)
	}
	if got := Get("NoSuchKey"); got != "NoSuchKey" {
		t.Fatalf("missing key should echo, got %q", got)
	}
	if got := StatusLabel("void"); got != "void" {
		t.Fatalf("unknown status should echo, got %q", got)
	}
}
