package cmd

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestActiveConfigPath(t *testing.T) {
	t.Run("uses explicit flag first", func(t *testing.T) {
		got, err := activeConfigPath("./custom.yaml", "/tmp/active.yaml")
		if err != nil || got != "./custom.yaml" {
			t.Fatalf("expected explicit config path, got %q (%v)", got, err)
		}
	})

	t.Run("uses active config when flag is empty", func(t *testing.T) {
		got, err := activeConfigPath(" ", "/tmp/active.yaml")
		if err != nil || got != "/tmp/active.yaml" {
			t.Fatalf("expected active config path, got %q (%v)", got, err)
		}
	})

	t.Run("falls back to home config path", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("HOME", home)

		got, err := activeConfigPath("", "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if want := filepath.Join(home, ".timebill.yaml"); got != want {
			t.Fatalf("expected %q, got %q", want, got)
		}
	})
}

func TestWriteTemplateIfMissing(t *testing.T) {
	t.Parallel()

	configPath := filepath.Join(t.TempDir(), "nested", "timebill.yaml")

	created, err := writeTemplateIfMissing(configPath)
	if err != nil || !created {
		t.Fatalf("expected template to be written, created=%v err=%v", created, err)
	}
	content, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if !strings.Contains(string(content), "# timebill configuration") {
		t.Fatalf("expected example config content, got:\n%s", content)
	}
	info, err := os.Stat(configPath)
	if err != nil {
		t.Fatalf("stat config: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected config file mode 0600, got %o", info.Mode().Perm())
	}

	created, err = writeTemplateIfMissing(configPath)
	if err != nil || created {
		t.Fatalf("existing file must be kept, created=%v err=%v", created, err)
	}
}

func TestPickEditor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		visual, editor, want string
	}{
		{visual: "code --wait", editor: "nano", want: "code --wait"},
		{visual: " ", editor: "nano", want: "nano"},
		{want: "vi"},
	}
	for _, tt := range tests {
		if got := pickEditor(tt.visual, tt.editor); got != tt.want {
			t.Fatalf("pickEditor(%q, %q) = %q, want %q", tt.visual, tt.editor, got, tt.want)
		}
	}
}

func TestEditorCommandFor(t *testing.T) {
	t.Parallel()

	cmd, err := editorCommandFor("code --wait", "/tmp/cfg.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []string{"code", "--wait", "/tmp/cfg.yaml"}; !reflect.DeepEqual(cmd.Args, want) {
		t.Fatalf("unexpected args %#v", cmd.Args)
	}
	if _, err := editorCommandFor("   ", "/tmp/cfg.yaml"); err == nil {
		t.Fatalf("expected error for empty editor")
	}
}

func TestSecretsInYAML(t *testing.T) {
	t.Parallel()

	content := []byte(`timeular:
  api_key: "abc"
  base_url: "https://api.timeular.com/api/v4"
freshbooks:
  client_secret: "s3cret"
  client_id: ""
`)
	got := secretsInYAML(content)
	want := []string{"timeular.api_key", "freshbooks.client_secret"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if leaked := secretsInYAML([]byte("rates:\n  currency: EUR\n")); len(leaked) != 0 {
		t.Fatalf("expected no secrets, got %v", leaked)
	}
}
