package commands

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"testing"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtext-lang/rtext/internal/cli/config"
	"github.com/rtext-lang/rtext/internal/wire"
)

const helperEnv = "RTEXT_COMMANDS_HELPER"

const (
	modelA = `Root r {
  Widget w1, color: red
  Gadget g1, ref: /r/w1
}
`
	modelB = "Root s {\n  Widgit w2\n}\n"
)

// TestHelperProcess serves the project named by the environment; it is the
// backend started by the request tests
func TestHelperProcess(t *testing.T) {
	dir := os.Getenv(helperEnv)
	if dir == "" {
		return
	}

	cmd := NewRootCommand()
	cmd.SetArgs([]string{"serve", "--dir", dir})
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(0)
}

// writeProject creates an rtext project with two model files and a .rtext
// file that starts this test binary as the backend
func writeProject(t *testing.T) string {
	t.Helper()
	schema, err := filepath.Abs("../../metamodel/testdata/test_schema.yml")
	require.NoError(t, err)

	dir := t.TempDir()
	files := map[string]string{
		"rtext.yml": fmt.Sprintf(`service:
  port_min: 0
  port_max: 0
  poll_interval: 10ms
workspace:
  schema: %q
log:
  level: error
`, schema),
		"a.rt": modelA,
		"b.rt": modelB,
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}

	section := config.Section{
		Patterns: []string{"*.rt"},
		Command:  shellquote.Join(os.Args[0], "-test.run=^TestHelperProcess$"),
	}
	var buf bytes.Buffer
	require.NoError(t, config.WriteRText(&buf, []config.Section{section}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.RTextFile), buf.Bytes(), 0o644))

	return dir
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append(args, "--no-color"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func TestServe(t *testing.T) {
	dir := writeProject(t)

	pr, pw := io.Pipe()
	cmd := NewRootCommand()
	cmd.SetOut(pw)
	cmd.SetArgs([]string{"serve", "--dir", dir})

	done := make(chan error, 1)
	go func() {
		done <- cmd.Execute()
		pw.Close()
	}()

	banner, err := bufio.NewReader(pr).ReadString('\n')
	require.NoError(t, err)
	match := regexp.MustCompile(`^RText service, listening on port (\d+)\n$`).FindStringSubmatch(banner)
	require.NotNil(t, match, banner)
	port, err := strconv.Atoi(match[1])
	require.NoError(t, err)

	nc, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer nc.Close()

	stop, err := wire.NewRequest(wire.CommandStop, 1, nil)
	require.NoError(t, err)
	frame, err := wire.Encode(stop)
	require.NoError(t, err)
	_, err = nc.Write(frame)
	require.NoError(t, err)

	go io.Copy(io.Discard, pr)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestServe_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rtext.yml"), []byte("service:\n  port_min: 10\n  port_max: 5\n"), 0o644))

	_, _, err := execute(t, "serve", "--dir", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must not exceed")
}

func TestRequest(t *testing.T) {
	dir := writeProject(t)
	t.Setenv(helperEnv, dir)
	file := filepath.Join(dir, "a.rt")

	t.Run("load", func(t *testing.T) {
		out, _, err := execute(t, "request", "load", "--file", file)
		require.NoError(t, err)
		assert.Contains(t, out, "unknown command 'Widgit'")
		assert.Contains(t, out, "1 problem(s) in 1 file(s)")
	})

	t.Run("complete", func(t *testing.T) {
		out, _, err := execute(t, "request", "complete", "--file", file, "--line", "2", "--column", "21")
		require.NoError(t, err)
		assert.Regexp(t, `(?m)^red\s+red$`, out)
		assert.Contains(t, out, "green")
		assert.Contains(t, out, "blue")
	})

	t.Run("links", func(t *testing.T) {
		out, _, err := execute(t, "request", "links", "--file", file, "--line", "3", "--column", "20")
		require.NoError(t, err)
		assert.Contains(t, out, "Widget /r/w1")
		assert.Contains(t, out, "19-23")
	})

	t.Run("find", func(t *testing.T) {
		out, _, err := execute(t, "request", "find", "--file", file, "g1")
		require.NoError(t, err)
		assert.Contains(t, out, "Gadget /r/g1")
		assert.Contains(t, out, "1 of 1 element(s)")
	})

	t.Run("stop", func(t *testing.T) {
		out, _, err := execute(t, "request", "stop", "--file", file)
		require.NoError(t, err)
		assert.Contains(t, out, "Backend stopped")
	})
}

func TestRequest_NoConfig(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.rt")
	require.NoError(t, os.WriteFile(file, []byte(modelA), 0o644))

	_, stderr, err := execute(t, "request", "load", "--file", file)
	require.ErrorIs(t, err, config.ErrNoConfig)
	assert.Contains(t, stderr, "No .rtext section matches")
}

func TestContextRequest(t *testing.T) {
	file := filepath.Join(t.TempDir(), "a.rt")
	require.NoError(t, os.WriteFile(file, []byte(modelA), 0o644))

	tests := []struct {
		name    string
		flags   requestFlags
		want    wire.ContextRequest
		wantErr bool
	}{
		{"first line", requestFlags{file: file, line: 1, column: 3}, wire.ContextRequest{Column: 3, Context: []string{"Root r {"}}, false},
		{"second line", requestFlags{file: file, line: 2, column: 5}, wire.ContextRequest{Column: 5, Context: []string{"Root r {", "  Widget w1, color: red"}}, false},
		{"past end", requestFlags{file: file, line: 9, column: 1}, wire.ContextRequest{}, true},
		{"zero column", requestFlags{file: file, line: 1, column: 0}, wire.ContextRequest{}, true},
		{"missing file", requestFlags{file: file + ".x", line: 1, column: 1}, wire.ContextRequest{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := contextRequest(tt.flags)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInit(t *testing.T) {
	dir := t.TempDir()

	out, _, err := execute(t, "init", "--dir", dir, "--patterns", "*.rt, *.rt2:", "--command", "rtext serve --watch", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote")

	data, err := os.ReadFile(filepath.Join(dir, config.RTextFile))
	require.NoError(t, err)
	assert.Equal(t, "*.rt, *.rt2:\nrtext serve --watch\n", string(data))

	section, err := config.FindConfig(filepath.Join(dir, "x.rt2"))
	require.NoError(t, err)
	assert.Equal(t, "rtext serve --watch", section.Command)
}

func TestInit_InvalidPattern(t *testing.T) {
	dir := t.TempDir()

	_, _, err := execute(t, "init", "--dir", dir, "--patterns", "[", "--command", "rtext serve", "--yes")
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(dir, config.RTextFile))
	assert.True(t, os.IsNotExist(statErr))
}

func TestValidatePatterns(t *testing.T) {
	assert.NoError(t, validatePatterns("*.rt"))
	assert.NoError(t, validatePatterns("*.rt, *.rt2:"))
	assert.Error(t, validatePatterns("["))
	assert.Error(t, validatePatterns(42))
}
