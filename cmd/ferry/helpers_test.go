package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"ferry/internal/config"
	"ferry/internal/testsupport"
)

type cliTestEnv struct {
	server     *testsupport.FakeServer
	cfg        *config.Config
	configPath string
	dataDir    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	fs := testsupport.NewFakeServer(t)
	cfg := testsupport.NewConfig(t, testsupport.WithServer(fs.URL))
	cfg.Logging.Level = "error"
	base := testsupport.BaseDir(cfg)
	t.Setenv("HOME", filepath.Join(base, "home"))

	configPath := filepath.Join(base, "ferry.toml")
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{
		server:     fs,
		cfg:        cfg,
		configPath: configPath,
		dataDir:    filepath.Join(base, "data"),
	}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

// files writes the given slash-separated paths under the data directory and
// returns the directory.
func (env *cliTestEnv) files(t *testing.T, paths ...string) string {
	t.Helper()
	return testsupport.WriteTree(t, env.dataDir, paths...)
}

func runCLI(t *testing.T, env *cliTestEnv, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	var flags []string
	if env != nil {
		flags = append(flags, "--config", env.configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
