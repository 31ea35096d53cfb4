package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		wantPrefix  string
		expectError bool
	}{
		{
			name:       "url with default prefix",
			config:     Config{URL: "redis://localhost:6379/0"},
			wantPrefix: "resthub",
		},
		{
			name:       "custom prefix",
			config:     Config{URL: "redis://localhost:6379/0", Prefix: "hub"},
			wantPrefix: "hub",
		},
		{
			name:        "missing url",
			config:      Config{},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.expectError {
				assert.ErrorIs(t, err, ErrURLRequired)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPrefix, tt.config.Prefix)
		})
	}
}

func TestConfig_PrefixKey(t *testing.T) {
	c := &Config{Prefix: "resthub"}
	assert.Equal(t, "resthub:table:ns.t", c.PrefixKey("table:ns.t"))

	c.Prefix = ""
	assert.Equal(t, "table:ns.t", c.PrefixKey("table:ns.t"))
}

func TestNew(t *testing.T) {
	client, err := New(&Config{URL: "redis://localhost:6379/3"})
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, 3, client.Options().DB)

	_, err = New(&Config{URL: "not a url"})
	assert.Error(t, err)
}
