package env

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serverSection struct {
	Addr    string        `env:"TEST_SERVER_ADDR"`
	Timeout time.Duration `env:"TEST_SERVER_TIMEOUT"`
}

type rootConfig struct {
	Name     string   `env:"TEST_NAME"`
	Workers  int      `env:"TEST_WORKERS"`
	Debug    bool     `env:"TEST_DEBUG"`
	Tags     []string `env:"TEST_TAGS"`
	Server   serverSection
	internal string //nolint:unused // exercises the unexported-field skip
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_NAME", "convoy")
	t.Setenv("TEST_WORKERS", "4")
	t.Setenv("TEST_DEBUG", "true")
	t.Setenv("TEST_TAGS", "csv_import, api_fetch,db_sync")
	t.Setenv("TEST_SERVER_ADDR", ":8080")
	t.Setenv("TEST_SERVER_TIMEOUT", "30s")

	var cfg rootConfig
	require.NoError(t, Load(&cfg))

	assert.Equal(t, "convoy", cfg.Name)
	assert.Equal(t, 4, cfg.Workers)
	assert.True(t, cfg.Debug)
	assert.Equal(t, []string{"csv_import", "api_fetch", "db_sync"}, cfg.Tags)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 30*time.Second, cfg.Server.Timeout)
}

func TestLoad_UnsetLeavesFieldUntouched(t *testing.T) {
	cfg := rootConfig{Name: "preset", Workers: 2}
	require.NoError(t, Load(&cfg))

	assert.Equal(t, "preset", cfg.Name)
	assert.Equal(t, 2, cfg.Workers)
}

func TestLoad_InvalidInt(t *testing.T) {
	t.Setenv("TEST_WORKERS", "many")

	var cfg rootConfig
	err := Load(&cfg)
	require.Error(t, err)

	var invalid ErrInvalidValue
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "TEST_WORKERS", invalid.EnvVar)
	assert.Equal(t, "many", invalid.Value)
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("TEST_SERVER_TIMEOUT", "30 seconds")

	var cfg rootConfig
	err := Load(&cfg)

	var invalid ErrInvalidValue
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "TEST_SERVER_TIMEOUT", invalid.EnvVar)
}

func TestLoad_RequiresStructPointer(t *testing.T) {
	var notAStruct int
	err := Load(&notAStruct)
	var wrong ErrNotStructPointer
	assert.ErrorAs(t, err, &wrong)

	err = Load(rootConfig{})
	assert.ErrorAs(t, err, &wrong)
}

type validatedSection struct {
	DSN string `env:"TEST_VALIDATED_DSN"`
}

var errDSNRequired = errors.New("dsn is required")

func (v *validatedSection) Validate() error {
	if v.DSN == "" {
		return errDSNRequired
	}
	return nil
}

type validatedRoot struct {
	Storage validatedSection
}

func TestLoad_NestedValidatorRuns(t *testing.T) {
	var cfg validatedRoot
	assert.ErrorIs(t, Load(&cfg), errDSNRequired)

	t.Setenv("TEST_VALIDATED_DSN", "postgres://localhost/convoy")
	assert.NoError(t, Load(&cfg))
}

func TestLoad_SliceTrimsAndDropsEmpty(t *testing.T) {
	t.Setenv("TEST_TAGS", " a ,, b ,")

	var cfg rootConfig
	require.NoError(t, Load(&cfg))
	assert.Equal(t, []string{"a", "b"}, cfg.Tags)
}
