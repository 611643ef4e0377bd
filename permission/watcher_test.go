package permission

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"permissions":{"allow":["Read"]}}`), 0o644))

	reloaded := make(chan *Settings, 4)
	w, err := WatchSettings(path,
		WithDebounce(10*time.Millisecond),
		WithReloadHook(func(s *Settings) { reloaded <- s }),
	)
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, []string{"Read"}, w.Current().Permissions.Allow)

	require.NoError(t, os.WriteFile(path, []byte(`{"permissions":{"allow":["Bash(ls:*)"]}}`), 0o644))

	select {
	case <-reloaded:
	case <-time.After(5 * time.Second):
		t.Fatal("settings were not reloaded")
	}
	assert.Eventually(t, func() bool {
		return w.Current().IsToolAllowed("Bash", []byte(`{"command":"ls"}`))
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSettingsWatcher_MissingFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	w, err := WatchSettings(filepath.Join(dir, "settings.json"), WithDebounce(10*time.Millisecond))
	require.NoError(t, err)
	defer w.Close()

	assert.Empty(t, w.Current().Permissions.Allow)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.json"), []byte(`{"permissions":{"allow":["Edit"]}}`), 0o644))
	assert.Eventually(t, func() bool {
		return w.Current().IsToolAllowed("Edit", nil)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSettingsWatcher_CloseIdempotent(t *testing.T) {
	w, err := WatchSettings(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)
	assert.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}

func TestStaticSettings(t *testing.T) {
	s := AllowSettings("Read")
	assert.Same(t, s, StaticSettings{Settings: s}.Current())
}
