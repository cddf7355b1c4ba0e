package thresholds_test

import (
	"os"
	"path/filepath"
	"testing"

	"codeberg.org/mutker/hubctl/internal/policy"
	"codeberg.org/mutker/hubctl/internal/thresholds"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	s := thresholds.NewStore(filepath.Join(t.TempDir(), "thresholds.json"), nil)
	assert.Equal(t, policy.DefaultThresholds(), s.Load())
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "thresholds.json")
	s := thresholds.NewStore(path, nil)

	require.NoError(t, s.Save(policy.Thresholds{policy.Temperature: 27.5, policy.Humidity: 70}))

	got := thresholds.NewStore(path, nil).Load()
	assert.Equal(t, 27.5, got[policy.Temperature])
	assert.Equal(t, 70.0, got[policy.Humidity])

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSaveYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	s := thresholds.NewStore(path, nil)

	require.NoError(t, s.Save(policy.Thresholds{policy.Temperature: 25}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "temperature: 25")
	assert.Equal(t, 25.0, s.Load()[policy.Temperature])
}

func TestLoadWithoutExtensionIsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds")
	require.NoError(t, os.WriteFile(path, []byte(`{"humidity": 58}`), 0o644))

	got := thresholds.NewStore(path, nil).Load()
	assert.Equal(t, 58.0, got[policy.Humidity])
	assert.Equal(t, 30.0, got[policy.Temperature])
}

func TestLoadCorruptFileGivesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"temperature": `), 0o644))

	assert.Equal(t, policy.DefaultThresholds(), thresholds.NewStore(path, nil).Load())
}

func TestLoadSkipsUnknownAndInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"temperature": "hot", "humidity": "61.5", "pressure": 3}`), 0o644))

	got := thresholds.NewStore(path, nil).Load()
	assert.Equal(t, policy.Thresholds{policy.Temperature: 30, policy.Humidity: 61.5}, got)
}
