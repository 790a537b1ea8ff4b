package confkit_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"stockbot/pkg/confkit"
)

func TestResolvePath(t *testing.T) {
	require.Equal(t, "/abs/file.yaml", confkit.ResolvePath("/base", "/abs/file.yaml"))
	require.Equal(t, filepath.Join("/base", "etc", "exchanges.yaml"),
		confkit.ResolvePath("/base", "etc/exchanges.yaml"))

	t.Setenv("CONF_DIR", "conf.d")
	require.Equal(t, filepath.Join("/base", "conf.d", "file.yaml"),
		confkit.ResolvePath("/base", "${CONF_DIR}/file.yaml"))
}

func TestBaseDir(t *testing.T) {
	require.Equal(t, "/etc/stockbot", confkit.BaseDir("/etc/stockbot/app.yaml"))
	require.Equal(t, "/", confkit.BaseDir("/app.yaml"))
	require.Equal(t, "etc", confkit.BaseDir("etc/app.yaml"))
}

func TestLoadFile(t *testing.T) {
	type listen struct {
		Name string
		Port int `json:",default=8080"`
	}

	path := filepath.Join(t.TempDir(), "listen.yaml")
	require.NoError(t, os.WriteFile(path, []byte("Name: ${LISTEN_NAME}\n"), 0o644))
	t.Setenv("LISTEN_NAME", "expanded")

	cfg, err := confkit.LoadFile[listen](path, true)
	require.NoError(t, err)
	require.Equal(t, "expanded", cfg.Name)
	require.Equal(t, 8080, cfg.Port, "defaults apply to omitted fields")

	_, err = confkit.LoadFile[listen](filepath.Join(t.TempDir(), "missing.yaml"), false)
	require.Error(t, err)
}

func TestSectionHydrate(t *testing.T) {
	t.Run("no file configured", func(t *testing.T) {
		section := &confkit.Section[string]{}
		err := section.Hydrate("/base", func(string) (*string, error) {
			t.Fatal("loader must not run for an empty section")
			return nil, nil
		})
		require.NoError(t, err)
		require.Nil(t, section.Value)
	})

	t.Run("resolves against base", func(t *testing.T) {
		section := &confkit.Section[string]{File: "registry.yaml"}
		value := "hydrated"
		err := section.Hydrate("/base", func(path string) (*string, error) {
			require.Equal(t, filepath.Join("/base", "registry.yaml"), path)
			return &value, nil
		})
		require.NoError(t, err)
		require.Equal(t, filepath.Join("/base", "registry.yaml"), section.File)
		require.NotNil(t, section.Value)
		require.Equal(t, value, *section.Value)
	})

	t.Run("loader failure surfaces", func(t *testing.T) {
		section := &confkit.Section[string]{File: "registry.yaml"}
		err := section.Hydrate("/base", func(string) (*string, error) {
			return nil, fmt.Errorf("parse failed")
		})
		require.Error(t, err)
		require.Nil(t, section.Value)
	})
}
