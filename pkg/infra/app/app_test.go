package app

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testOptions struct {
	Name    string `mapstructure:"name"`
	Port    int    `mapstructure:"port"`
	Mode    string `mapstructure:"mode"`
	checked bool
}

func (o *testOptions) Flags() (nfs NamedFlagSets) {
	fs := nfs.FlagSet("server")
	fs.StringVar(&o.Name, "name", o.Name, "name")
	fs.IntVar(&o.Port, "port", o.Port, "port")
	nfs.FlagSet("misc").StringVar(&o.Mode, "mode", o.Mode, "mode")
	return nfs
}

func (o *testOptions) Complete() error { return nil }

func (o *testOptions) Validate() error {
	o.checked = true
	return nil
}

func TestConfigPrecedence(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	path := filepath.Join(dir, "test-app.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: from-file\nport: 1\nmode: ${TEST_APP_MODE_SOURCE}\n"), 0o600))
	t.Setenv("TEST_APP_PORT", "2")
	t.Setenv("TEST_APP_MODE_SOURCE", "expanded")

	opts := &testOptions{Name: "default", Port: 0}
	var gotArgs []string
	a := NewApp(
		WithName("test-app"),
		WithNoVersion(),
		WithOptions(opts),
		WithRunFunc(func(args []string) error {
			gotArgs = args
			return nil
		}),
	)
	a.Command().SetArgs([]string{"--config", path, "--name", "from-flag", "extra"})
	require.NoError(t, a.Command().Execute())

	assert.Equal(t, "from-flag", opts.Name)
	assert.Equal(t, 2, opts.Port)
	assert.Equal(t, "expanded", opts.Mode)
	assert.True(t, opts.checked)
	assert.Equal(t, []string{"extra"}, gotArgs)
}

func TestHelpPrintsNamedSections(t *testing.T) {
	a := NewApp(WithName("test-app"), WithNoVersion(), WithOptions(&testOptions{}))
	var out bytes.Buffer
	a.Command().SetOut(&out)
	a.Command().SetArgs([]string{"--help"})
	require.NoError(t, a.Command().Execute())

	help := out.String()
	assert.Contains(t, help, "Server flags:")
	assert.Contains(t, help, "Misc flags:")
	assert.Less(t, bytes.Index(out.Bytes(), []byte("Server flags:")), bytes.Index(out.Bytes(), []byte("Misc flags:")))
}

func TestEnvPrefix(t *testing.T) {
	assert.Equal(t, "STATUTE_AGENT", EnvPrefix("statute-agent"))
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("APP_TEST_HOST", "db.local")

	tests := []struct {
		in, want string
	}{
		{"${APP_TEST_HOST}:5432", "db.local:5432"},
		{"$APP_TEST_HOST", "db.local"},
		{"${APP_TEST_UNSET}", "${APP_TEST_UNSET}"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ExpandEnv(tt.in))
		})
	}
}
