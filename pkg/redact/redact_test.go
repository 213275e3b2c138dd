package redact

import "testing"

func TestTextDisabledPassesThrough(t *testing.T) {
	SetEnabled(false)
	in := "call back +1 415-555-0100 or mail ops@example.com"
	if got := Text(in); got != in {
		t.Fatalf("disabled redaction changed input: %q", got)
	}
}

func TestTextMasksPhoneAndEmail(t *testing.T) {
	SetEnabled(true)
	defer SetEnabled(false)

	got := Text("caller +1 415-555-0100 reached ops@example.com")
	if got != "caller [REDACTED_PHONE] reached [REDACTED_EMAIL]" {
		t.Fatalf("redacted = %q", got)
	}

	if got := Text("stream MZ1234 ok"); got != "stream MZ1234 ok" {
		t.Fatalf("non-PII text changed: %q", got)
	}
}
