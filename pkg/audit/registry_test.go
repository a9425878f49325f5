package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/pkg/errdefs"
)

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()

	err := r.Register("role_permission", Registration{
		Label:      "role permission grant",
		Operations: []string{OpGrant, OpRevoke, OpActivate, OpUpdateWindow, OpCleanupExpired},
	})
	require.NoError(t, err)

	t.Run("duplicate rejected", func(t *testing.T) {
		err := r.Register("role_permission", Registration{Label: "again"})
		assert.True(t, errdefs.IsConfiguration(err))
	})

	t.Run("empty business type rejected", func(t *testing.T) {
		err := r.Register("", Registration{Label: "anonymous"})
		assert.True(t, errdefs.IsConfiguration(err))
	})
}

func TestRegistry_Lookup(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("user_role", Registration{Label: "user role assignment"}))

	reg, err := r.Lookup("user_role")
	require.NoError(t, err)
	assert.Equal(t, "user role assignment", reg.Label)

	_, err = r.Lookup("never_registered")
	assert.True(t, errdefs.IsConfiguration(err))
}

func TestRegistration_Allows(t *testing.T) {
	open := Registration{}
	assert.True(t, open.Allows(OpGrant))
	assert.True(t, open.Allows("ANYTHING"))

	restricted := Registration{Operations: []string{OpGrant, OpRevoke}}
	assert.True(t, restricted.Allows(OpRevoke))
	assert.False(t, restricted.Allows(OpCleanupExpired))
}
