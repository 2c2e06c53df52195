package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/attendance/internal/recognition"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestReadLandmarks(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "face.json")
	writeFile(t, good, `[{"x":0.1,"y":0.2,"z":0.3},{"x":0.4,"y":0.5,"z":0.6}]`)

	lm, err := readLandmarks(good)
	require.NoError(t, err)
	require.Len(t, lm, 2)
	assert.InDelta(t, 0.4, lm[1].X, 1e-9)

	bad := filepath.Join(dir, "bad.json")
	writeFile(t, bad, `{"faces":`)
	_, err = readLandmarks(bad)
	require.Error(t, err)

	_, err = readLandmarks(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
}

func TestScanBulkDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "Alice", "2.json"), "[]")
	writeFile(t, filepath.Join(dir, "Alice", "1.json"), "[]")
	writeFile(t, filepath.Join(dir, "Bob", "a.jpg"), "x")
	writeFile(t, filepath.Join(dir, "Bob", ".DS_Store"), "x")
	writeFile(t, filepath.Join(dir, "Mixed", "a.json"), "[]")
	writeFile(t, filepath.Join(dir, "Mixed", "b.png"), "x")
	writeFile(t, filepath.Join(dir, "loose.txt"), "x")

	entries, err := scanBulkDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "Alice", entries[0].name)
	assert.True(t, entries[0].json)
	assert.Equal(t, []string{
		filepath.Join(dir, "Alice", "1.json"),
		filepath.Join(dir, "Alice", "2.json"),
	}, entries[0].files)

	assert.Equal(t, "Bob", entries[1].name)
	assert.False(t, entries[1].json)
	assert.Len(t, entries[1].files, 1)

	assert.False(t, entries[2].json)
}

func TestParseAt(t *testing.T) {
	at, err := parseAt("")
	require.NoError(t, err)
	assert.Nil(t, at)

	at, err = parseAt("2024-03-01T09:15:02Z")
	require.NoError(t, err)
	require.NotNil(t, at)
	assert.Equal(t, 9, at.UTC().Hour())

	_, err = parseAt("yesterday")
	require.Error(t, err)
}

func TestDescribeResult(t *testing.T) {
	d := 0.1234
	assert.Equal(t, "Jan (001), distance 0.1234", describeResult(recognition.Result{
		Status: recognition.StatusRecognized, Matched: true, IdentityID: "001", DisplayName: "Jan", Distance: &d,
	}))
	assert.Equal(t, "no face detected", describeResult(recognition.Result{Status: recognition.StatusNoFace}))
	assert.Equal(t, "unknown, no identities enrolled", describeResult(recognition.Result{
		Status: recognition.StatusUnknown, Reason: recognition.ReasonNoIdentities,
	}))
	assert.Contains(t, describeResult(recognition.Result{
		Status: recognition.StatusUnknown, Reason: recognition.ReasonAboveLimit, Distance: &d,
	}), "closest 0.1234")
}
