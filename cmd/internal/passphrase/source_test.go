package passphrase

import "testing"

func TestSourcePrefersEnvironment(t *testing.T) {
	t.Setenv("PRESALE_TEST_PASS", "hunter2")
	src := NewSource("PRESALE_TEST_PASS", "authorizer keystore")
	got, err := src.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "hunter2" {
		t.Fatalf("unexpected passphrase %q", got)
	}

	t.Setenv("PRESALE_TEST_PASS", "changed")
	again, err := src.Get()
	if err != nil || again != "hunter2" {
		t.Fatalf("expected cached passphrase, got %q err=%v", again, err)
	}
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	t.Setenv("PRESALE_TEST_PASS", "   ")
	if _, err := NewSource("PRESALE_TEST_PASS", "").Get(); err == nil {
		t.Fatalf("expected blank passphrase to be rejected")
	}
}
