package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/statute-agent/pkg/utils/json"
)

func TestOptions_RedactsPassword(t *testing.T) {
	o := NewOptions()
	o.Password = "secret"

	b, err := json.Marshal(o)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "secret")
	assert.Contains(t, string(b), redactedPassword)
	assert.NotContains(t, o.String(), "secret")
}

func TestOptions_ValidateDisabled(t *testing.T) {
	o := NewOptions()
	o.Port = -1
	assert.Empty(t, o.Validate())

	o.Enabled = true
	assert.Len(t, o.Validate(), 1)
	assert.Equal(t, "127.0.0.1:-1", o.Addr())
}
