package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mainSrc = `
.func main vars=x
  .stmt 1 1
  const 2
  const 3
  mul
  store x
  .stmt 2 1
  gload print
  const "x ="
  load x
  call 2
  pop
  .stmt 3 1
  load x
  const 1
  add
  ret
.end
`

const throwSrc = `
.func main
  .stmt 1 1
  gload Error
  const "boom"
  call 1
  throw
.end
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func run(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errb bytes.Buffer
	code = execute(args, &out, &errb)
	return code, out.String(), errb.String()
}

func TestExecute_Version(t *testing.T) {
	code, out, _ := run(t, "version")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, "scriptdbg dev")
	assert.Contains(t, out, "Commit: unknown")
}

func TestExecute_UsageErrors(t *testing.T) {
	code, _, stderr := run(t, "run")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "Error:")

	code, _, _ = run(t, "--bogus")
	assert.Equal(t, exitUsage, code)
}

func TestExecute_Disasm(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "main.sasm", mainSrc)

	code, out, stderr := run(t, "disasm", path)
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, out, "func main (f0) vars=x")
	assert.Contains(t, out, "; main.sasm:2:1 stmt")

	code, _, stderr = run(t, "disasm", filepath.Join(dir, "missing.sasm"))
	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr, "missing.sasm")
}

func TestExecute_BadConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "scriptdbg.toml", "[eval]\ntimeout = \"soon\"\n")
	path := writeFile(t, dir, "main.sasm", mainSrc)

	code, _, stderr := run(t, "run", "--config", cfg, path)
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "scriptdbg.toml")
}
