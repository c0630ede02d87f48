package lessons

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBuiltin(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	ids := make([]string, 0, c.Len())
	for _, s := range c.List() {
		ids = append(ids, s.ID)
		assert.NotEmpty(t, s.Title, s.ID)
		assert.Positive(t, s.Tasks, s.ID)
	}
	assert.Equal(t, []string{
		"filesystem-basics",
		"permissions",
		"log-analysis",
		"network-troubleshooting",
		"service-recovery",
	}, ids)

	l, err := c.Get("log-analysis")
	require.NoError(t, err)
	require.Len(t, l.Files, 1)
	assert.Contains(t, l.Files[0].Content, "payment gateway timeout", "content_from is inlined")

	_, err = c.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, IsNotFound(err))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "custom.yml"), `
id: custom
title: Custom lesson
files:
  - path: /etc/motd
    content_from: text/motd.txt
tasks:
  - title: Read the message of the day
    validation:
      type: output_contains
      check: hello
`)
	writeFile(t, filepath.Join(dir, "text", "motd.txt"), "hello from the lab\n")

	c, err := Load(dir)
	require.NoError(t, err)
	l, err := c.Get("custom")
	require.NoError(t, err)
	assert.Equal(t, "hello from the lab\n", l.Files[0].Content)
	assert.Equal(t, "custom", c.List()[c.Len()-1].ID)
}

func TestLoadDirDuplicate(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "dup.yaml"), "id: permissions\ntitle: Again\ntasks: []\n")

	_, err := Load(dir)
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestContentFromStaysInsideDir(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "lessons")
	writeFile(t, filepath.Join(root, "secret.txt"), "do not read")
	writeFile(t, filepath.Join(dir, "escape.yaml"), `
id: escape
title: Escape
files:
  - path: /tmp/stolen
    content_from: ../secret.txt
tasks: []
`)

	_, err := Load(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist, "the reference is clamped to the lessons directory")
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad id", "id: Bad_ID\ntitle: x\n"},
		{"missing title", "id: ok\n"},
		{"unknown validation", "id: ok\ntitle: x\ntasks:\n  - title: t\n    validation: {type: telepathy, check: x}\n"},
		{"empty check", "id: ok\ntitle: x\ntasks:\n  - title: t\n    validation: {type: command_exact}\n"},
		{"both contents", "id: ok\ntitle: x\nfiles:\n  - path: /a\n    content: x\n    content_from: y\n"},
		{"unknown owner", "id: ok\ntitle: x\nfiles:\n  - path: /a\n    owner: nobody-here\n"},
		{"bad host", "id: ok\ntitle: x\nhosts:\n  - name: h\n    ip: not-an-ip\n"},
		{"bad record", "id: ok\ntitle: x\ndns_records: [\"this is not a record\"]\n"},
		{"bad rule", "id: ok\ntitle: x\nfirewall: [\"-A NOPE -j DROP\"]\n"},
		{"unknown service", "id: ok\ntitle: x\nservices:\n  - name: nosuch\n"},
		{"bad service state", "id: ok\ntitle: x\nservices:\n  - name: nginx\n    state: sleepy\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml), nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidLesson)
		})
	}
}

func TestParseMinimal(t *testing.T) {
	l, err := Parse([]byte("id: empty\ntitle: Nothing to do\n"), nil)
	require.NoError(t, err)
	assert.Equal(t, Summary{ID: "empty", Title: "Nothing to do"}, l.Summary())

	_, err = l.Task(0)
	assert.ErrorIs(t, err, ErrTaskIndex)
}
