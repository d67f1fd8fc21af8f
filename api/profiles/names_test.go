package profiles

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitName(t *testing.T) {
	long := strings.Repeat("a", 30) + strings.Repeat("b", 30) + strings.Repeat("c", 10)
	exactly60 := strings.Repeat("x", 20) + " " + strings.Repeat("y", 39)

	cases := []struct {
		name, first, last string
	}{
		{"Bob", "Bob", ""},
		{"Bob Smith", "Bob", "Smith"},
		{"  Ana  Maria   Lopez ", "Ana", "Maria Lopez"},
		{"", "", ""},
		{long, strings.Repeat("a", 30), strings.Repeat("b", 30)},
		{exactly60, strings.Repeat("x", 20), strings.Repeat("y", 39)},
	}

	for _, c := range cases {
		first, last := SplitName(c.name, 30)
		assert.Equal(t, c.first, first, c.name)
		assert.Equal(t, c.last, last, c.name)
	}
}

func TestSplitNameCountsRunes(t *testing.T) {
	name := strings.Repeat("é", 61)
	first, last := SplitName(name, 30)
	assert.Equal(t, strings.Repeat("é", 30), first)
	assert.Equal(t, strings.Repeat("é", 30), last)
}

func TestLoadReservedNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reserved.yaml")
	require.NoError(t, os.WriteFile(path, []byte("reserved_usernames:\n  - Dashboard\n  - billing\n"), 0644))

	names, err := LoadReservedNames(path)
	require.NoError(t, err)
	assert.True(t, names.Contains("dashboard"))
	assert.True(t, names.Contains("BILLING"))
	assert.True(t, names.Contains("admin"))
	assert.False(t, names.Contains("alice"))

	_, err = LoadReservedNames(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
