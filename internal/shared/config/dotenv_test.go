package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseEnvLine(t *testing.T) {
	cases := []struct {
		line   string
		key    string
		val    string
		wantOK bool
	}{
		{line: "PORT=9090", key: "PORT", val: "9090", wantOK: true},
		{line: "export ENV=dev", key: "ENV", val: "dev", wantOK: true},
		{line: `GREETING="hello # world"`, key: "GREETING", val: "hello # world", wantOK: true},
		{line: "TOKEN='a=b'", key: "TOKEN", val: "a=b", wantOK: true},
		{line: "LEVEL=debug # local only", key: "LEVEL", val: "debug", wantOK: true},
		{line: "EMPTY=", key: "EMPTY", val: "", wantOK: true},
		{line: "# comment"},
		{line: "   "},
		{line: "no separator"},
		{line: "BAD KEY=1"},
	}
	for _, tc := range cases {
		key, val, ok := parseEnvLine(tc.line)
		if ok != tc.wantOK || key != tc.key || val != tc.val {
			t.Fatalf("%q: got (%q, %q, %v)", tc.line, key, val, ok)
		}
	}
}

func TestLoadEnvFilesKeepsProcessValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "router.env")
	content := "ROUTER_DOTENV_FRESH=from-file\nROUTER_DOTENV_SET=from-file\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("ROUTER_DOTENV_SET", "from-process")
	t.Setenv("ROUTER_ENV_FILE", path)
	t.Cleanup(func() { _ = os.Unsetenv("ROUTER_DOTENV_FRESH") })

	loadEnvFiles(filepath.Join(dir, "missing.env"))

	if got := os.Getenv("ROUTER_DOTENV_FRESH"); got != "from-file" {
		t.Fatalf("expected file value, got %q", got)
	}
	if got := os.Getenv("ROUTER_DOTENV_SET"); got != "from-process" {
		t.Fatalf("process value must win, got %q", got)
	}
}
