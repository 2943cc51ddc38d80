package conf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAndGetEnv(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"Single Value", "TEST_HELLO", "world"},
		{"Multi-value separated by commas", "TEST_LIST", "One,Two,Three,Four"},
		{"Number", "TEST_NUM", "1234"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Cleanup(func() { assert.NoError(t, UnsetEnv(t, tt.key)) })
			assert.NoError(t, SetEnv(t, tt.key, tt.value))
			assert.Equal(t, tt.value, GetEnv(tt.key))

			v, ok := LookupEnv(tt.key)
			assert.True(t, ok)
			assert.Equal(t, tt.value, v)
		})
	}
}

func TestUnsetEnv(t *testing.T) {
	require.NoError(t, SetEnv(t, "TEST_REMOVE", "value"))
	require.NoError(t, UnsetEnv(t, "TEST_REMOVE"))

	assert.Empty(t, GetEnv("TEST_REMOVE"))
	assert.Empty(t, os.Getenv("TEST_REMOVE"))

	_, ok := LookupEnv("TEST_DOESNOTEXIST")
	assert.False(t, ok)
}

func TestFindEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "local.env"), []byte("TEST=true\n"), 0600))
	missing := filepath.Join(dir, "missing")

	tests := []struct {
		name      string
		locations []string
		found     bool
		location  string
	}{
		{"First location", []string{dir, missing}, true, dir},
		{"Second location", []string{missing, dir}, true, dir},
		{"Empty entries skipped", []string{"", dir}, true, dir},
		{"Nothing found", []string{missing, missing}, false, ""},
		{"No locations", nil, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			found, loc := findEnv(tt.locations)
			assert.Equal(t, tt.found, found)
			assert.Equal(t, tt.location, loc)
		})
	}
}

func TestSetup(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "local.env"), []byte("TEST=true\n"), 0600))

	old := state
	t.Cleanup(func() { state = old })

	v := setup(dir)
	assert.Equal(t, "true", v.GetString("TEST"))
}

type nestedConfig struct {
	Timeout int `conf:"TEST_CHECKOUT_TIMEOUT" conf_default:"250"`
}

type checkoutConfig struct {
	Name      string  `conf:"TEST_CHECKOUT_NAME"`
	Size      int     `conf:"TEST_CHECKOUT_SIZE" conf_default:"500"`
	Enabled   bool    `conf:"TEST_CHECKOUT_ENABLED" conf_default:"true"`
	Ratio     float64 `conf:"TEST_CHECKOUT_RATIO" conf_default:"0.5"`
	Delimiter string  `conf:"TEST_CHECKOUT_DELIMITER" conf_default:","`
	Nested    nestedConfig
	ignored   string
}

func TestCheckout(t *testing.T) {
	t.Cleanup(func() {
		assert.NoError(t, UnsetEnv(t, "TEST_CHECKOUT_NAME"))
		assert.NoError(t, UnsetEnv(t, "TEST_CHECKOUT_SIZE"))
		assert.NoError(t, UnsetEnv(t, "TEST_CHECKOUT_TIMEOUT"))
	})

	t.Run("Defaults", func(t *testing.T) {
		var cfg checkoutConfig
		require.NoError(t, Checkout(&cfg))
		assert.Equal(t, "", cfg.Name)
		assert.Equal(t, 500, cfg.Size)
		assert.True(t, cfg.Enabled)
		assert.Equal(t, 0.5, cfg.Ratio)
		assert.Equal(t, ",", cfg.Delimiter)
		assert.Equal(t, 250, cfg.Nested.Timeout)
		assert.Empty(t, cfg.ignored)
	})

	t.Run("Overrides", func(t *testing.T) {
		require.NoError(t, SetEnv(t, "TEST_CHECKOUT_NAME", "bulk"))
		require.NoError(t, SetEnv(t, "TEST_CHECKOUT_SIZE", "25"))
		require.NoError(t, SetEnv(t, "TEST_CHECKOUT_TIMEOUT", "1000"))

		var cfg checkoutConfig
		require.NoError(t, Checkout(&cfg))
		assert.Equal(t, "bulk", cfg.Name)
		assert.Equal(t, 25, cfg.Size)
		assert.Equal(t, 1000, cfg.Nested.Timeout)
	})

	t.Run("BadValue", func(t *testing.T) {
		require.NoError(t, SetEnv(t, "TEST_CHECKOUT_SIZE", "not-a-number"))
		var cfg checkoutConfig
		assert.Error(t, Checkout(&cfg))
	})

	t.Run("NotAPointer", func(t *testing.T) {
		assert.Error(t, Checkout(checkoutConfig{}))
	})
}
