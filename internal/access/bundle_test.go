package access

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const sampleBundle = `
policies:
  - name: protect-production
    description: no agent touches prod
    rules:
      forbidden_resource_prefixes: ["prod/"]
  - name: terminal-no-delete
    rules:
      agent_types: [computer_terminal]
      forbidden_actions: [delete]
agents:
  file_surfer:
    logs:
      level: admin
    "*":
      level: read
      actions:
        create_environment: true
`

func TestLoadBundle_AppliesPoliciesAndAgents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundle.yaml")
	if err := os.WriteFile(path, []byte(sampleBundle), 0644); err != nil {
		t.Fatalf("write bundle: %v", err)
	}
	b, err := LoadBundle(path)
	if err != nil {
		t.Fatalf("LoadBundle error: %v", err)
	}
	if len(b.Policies) != 2 {
		t.Fatalf("expected 2 policies, got %d", len(b.Policies))
	}
	if b.Agents["file_surfer"]["logs"].Level != LevelAdmin {
		t.Fatalf("expected admin level, got %+v", b.Agents["file_surfer"]["logs"])
	}

	m, _ := newTestManager(t, Config{}, nil)
	created, err := m.ApplyBundle(b)
	if err != nil {
		t.Fatalf("ApplyBundle error: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("expected 2 created policies, got %d", len(created))
	}
	if d := m.Authorize("file_surfer", "delete", "logs", nil); !d.Authorized {
		t.Fatalf("expected delete on logs, got %+v", d)
	}
	if d := m.Authorize("file_surfer", "create_environment", "qa_system", nil); !d.Authorized {
		t.Fatalf("expected wildcard explicit grant, got %+v", d)
	}
}

func TestParseBundle_RejectsInvalid(t *testing.T) {
	if _, err := ParseBundle([]byte("policies:\n  - name: empty\n")); !errors.Is(err, ErrInvalidPolicy) {
		t.Fatalf("expected ErrInvalidPolicy, got %v", err)
	}
	if _, err := ParseBundle([]byte("agents:\n  x:\n    logs:\n      level: superuser\n")); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestStaticCredentials(t *testing.T) {
	hash, err := HashSecret("s3cret")
	if err != nil {
		t.Fatalf("HashSecret error: %v", err)
	}
	creds := NewStaticCredentials(map[string]string{"QA_Admin": hash})
	if !creds.ValidateCredentials("qa_admin", "s3cret") {
		t.Fatal("expected valid credentials")
	}
	if creds.ValidateCredentials("qa_admin", "wrong") {
		t.Fatal("expected invalid secret to fail")
	}
	if creds.ValidateCredentials("nobody", "s3cret") {
		t.Fatal("expected unknown user to fail")
	}
}
