package sources

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/plangate/plangate/pkg/config"
)

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func TestResolveFile(t *testing.T) {
	src, err := Resolve("plan.json", config.RemoteConfig{}, testLogger())
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if _, ok := src.(*FileSource); !ok {
		t.Fatalf("expected FileSource, got %T", src)
	}
	if src.Description() != "plan.json" {
		t.Errorf("description = %q", src.Description())
	}
}

func TestResolveStdin(t *testing.T) {
	src, err := Resolve("-", config.RemoteConfig{}, testLogger())
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if _, ok := src.(*StdinSource); !ok {
		t.Fatalf("expected StdinSource, got %T", src)
	}
}

func TestResolveEmptyPath(t *testing.T) {
	if _, err := Resolve("", config.RemoteConfig{}, testLogger()); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestResolveSSH(t *testing.T) {
	src, err := Resolve("ssh://deploy@bastion.internal:2222/srv/plans/prod.json", config.RemoteConfig{}, testLogger())
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	sftpSrc, ok := src.(*SFTPSource)
	if !ok {
		t.Fatalf("expected SFTPSource, got %T", src)
	}
	if sftpSrc.host != "bastion.internal" || sftpSrc.port != 2222 || sftpSrc.user != "deploy" {
		t.Errorf("parsed source = %+v", sftpSrc)
	}
	if sftpSrc.remotePath != "/srv/plans/prod.json" {
		t.Errorf("remote path = %q", sftpSrc.remotePath)
	}
	if got := src.Description(); got != "ssh://deploy@bastion.internal:2222/srv/plans/prod.json" {
		t.Errorf("description = %q", got)
	}
}

func TestSFTPSourceConfigFallbacks(t *testing.T) {
	cfg := config.RemoteConfig{
		Host: "fallback.internal",
		User: "ops",
		Port: 22,
	}

	src, err := NewSFTPSource("ssh:///var/plan.json", cfg, testLogger())
	if err != nil {
		t.Fatalf("NewSFTPSource failed: %v", err)
	}
	if src.host != "fallback.internal" || src.user != "ops" {
		t.Errorf("fallbacks not applied: %+v", src)
	}
}

func TestSFTPSourceErrors(t *testing.T) {
	tests := []struct {
		name string
		url  string
		cfg  config.RemoteConfig
	}{
		{"no path", "ssh://user@host", config.RemoteConfig{}},
		{"no user", "ssh://host/plan.json", config.RemoteConfig{}},
		{"no host", "ssh:///plan.json", config.RemoteConfig{User: "ops"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSFTPSource(tt.url, tt.cfg, testLogger()); err == nil {
				t.Errorf("expected error for %s", tt.name)
			}
		})
	}
}

func TestResolveRejectsNonSSHScheme(t *testing.T) {
	// http paths fall through to FileSource; only ssh:// is remote.
	src, err := Resolve("http://example.com/plan.json", config.RemoteConfig{}, testLogger())
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if _, ok := src.(*FileSource); !ok {
		t.Fatalf("expected FileSource for non-ssh URL, got %T", src)
	}
}

func TestFileSourceFetch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.json")
	if err := os.WriteFile(path, []byte(`{"format_version":"1.2"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	src := &FileSource{Path: path}
	rc, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "format_version") {
		t.Errorf("unexpected content: %s", data)
	}
}

func TestFileSourceFetchMissing(t *testing.T) {
	src := &FileSource{Path: filepath.Join(t.TempDir(), "missing.json")}
	if _, err := src.Fetch(context.Background()); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestChecksum(t *testing.T) {
	got, err := Checksum(strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("Checksum failed: %v", err)
	}
	want := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if got != want {
		t.Errorf("checksum = %s, want %s", got, want)
	}
}

func TestFetchVerified(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.json")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	src := &FileSource{Path: path}
	const digest = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

	data, err := FetchVerified(context.Background(), src, digest)
	if err != nil {
		t.Fatalf("FetchVerified failed: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("content = %q", data)
	}

	// Digests compare case-insensitively.
	if _, err := FetchVerified(context.Background(), src, strings.ToUpper(digest)); err != nil {
		t.Errorf("uppercase digest rejected: %v", err)
	}

	if _, err := FetchVerified(context.Background(), src, strings.Repeat("0", 64)); err == nil {
		t.Error("expected checksum mismatch error")
	}

	// Empty expectation skips verification.
	if _, err := FetchVerified(context.Background(), src, ""); err != nil {
		t.Errorf("unverified fetch failed: %v", err)
	}
}

func TestBuildClientConfigPasswordOnly(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	src, err := NewSFTPSource("ssh://deploy@bastion.internal/plan.json", config.RemoteConfig{
		Password:              "hunter2",
		InsecureIgnoreHostKey: true,
	}, testLogger())
	if err != nil {
		t.Fatalf("NewSFTPSource failed: %v", err)
	}

	cc, err := src.buildClientConfig()
	if err != nil {
		t.Fatalf("buildClientConfig failed: %v", err)
	}
	if len(cc.Auth) != 1 {
		t.Errorf("got %d auth methods, want 1 (password)", len(cc.Auth))
	}
}

func TestBuildClientConfigNoAuth(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	src, err := NewSFTPSource("ssh://deploy@bastion.internal/plan.json", config.RemoteConfig{
		InsecureIgnoreHostKey: true,
	}, testLogger())
	if err != nil {
		t.Fatalf("NewSFTPSource failed: %v", err)
	}

	if _, err := src.buildClientConfig(); err == nil {
		t.Error("expected error with no key and no password")
	}
}
