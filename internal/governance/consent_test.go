package governance

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestConsents(t *testing.T) *ConsentStore {
	t.Helper()
	store, err := NewConsentStore(filepath.Join(t.TempDir(), "consents.yaml"))
	if err != nil {
		t.Fatalf("NewConsentStore: %v", err)
	}
	return store
}

func TestConsentGrantAndCheck(t *testing.T) {
	store := newTestConsents(t)
	if err := store.Grant("agent-a", "files:*", "operator", nil, ""); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	if v := store.Check("agent-a", "files:read"); !v.Allowed {
		t.Errorf("files:read denied: %s", v.Reason)
	}
	if v := store.Check("agent-a", "files:write"); !v.Allowed {
		t.Errorf("files:write denied: %s", v.Reason)
	}
	// Single-segment glob does not cross the separator.
	if v := store.Check("agent-a", "files:admin:wipe"); v.Allowed {
		t.Error("files:admin:wipe allowed under files:*")
	}
	if v := store.Check("agent-a", "net:fetch"); v.Allowed {
		t.Error("net:fetch allowed under files:*")
	}
	if v := store.Check("agent-b", "files:read"); v.Allowed {
		t.Error("grant leaked to another agent")
	}
}

func TestConsentDeepPattern(t *testing.T) {
	store := newTestConsents(t)
	if err := store.Grant("agent-a", "files:**", "operator", nil, ""); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if v := store.Check("agent-a", "files:admin:wipe"); !v.Allowed {
		t.Errorf("files:admin:wipe denied under files:**: %s", v.Reason)
	}
}

func TestConsentRejectsInvalidPattern(t *testing.T) {
	store := newTestConsents(t)
	if err := store.Grant("agent-a", "files:[", "operator", nil, ""); err == nil {
		t.Error("invalid glob pattern accepted")
	}
}

func TestConsentExpiry(t *testing.T) {
	store := newTestConsents(t)

	base := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	now := base
	store.now = func() time.Time { return now }

	expires := base.Add(time.Hour)
	if err := store.Grant("agent-a", "net:*", "operator", &expires, ""); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	if v := store.Check("agent-a", "net:fetch"); !v.Allowed {
		t.Errorf("unexpired grant denied: %s", v.Reason)
	}

	now = base.Add(2 * time.Hour)
	if v := store.Check("agent-a", "net:fetch"); v.Allowed {
		t.Error("expired grant still permits")
	}
}

func TestConsentRevoke(t *testing.T) {
	path := filepath.Join(t.TempDir(), "consents.yaml")
	store, err := NewConsentStore(path)
	if err != nil {
		t.Fatalf("NewConsentStore: %v", err)
	}

	if err := store.Grant("agent-a", "files:*", "operator", nil, ""); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if err := store.Revoke("agent-a", "files:*"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if v := store.Check("agent-a", "files:read"); v.Allowed {
		t.Error("revoked grant still permits")
	}
	if err := store.Revoke("agent-a", "files:*"); err == nil {
		t.Error("revoking a missing grant succeeded")
	}
}

func TestConsentPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "consents.yaml")
	store, err := NewConsentStore(path)
	if err != nil {
		t.Fatalf("NewConsentStore: %v", err)
	}
	if err := store.Grant("agent-a", "files:*", "operator", nil, "batch import"); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	reopened, err := NewConsentStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if v := reopened.Check("agent-a", "files:read"); !v.Allowed {
		t.Errorf("persisted grant denied after reopen: %s", v.Reason)
	}
	grants := reopened.List()
	if len(grants) != 1 || grants[0].Note != "batch import" {
		t.Errorf("grants = %+v", grants)
	}
}
