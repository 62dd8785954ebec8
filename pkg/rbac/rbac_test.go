package rbac

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasPermission(t *testing.T) {
	assert.True(t, HasPermission(RoleService, PermissionCreateNotification))
	assert.True(t, HasPermission(RoleService, PermissionReadNotification))
	assert.True(t, HasPermission(RoleAuthenticated, PermissionReadNotification))
	assert.False(t, HasPermission(RoleAuthenticated, PermissionCreateNotification))
	assert.False(t, HasPermission(RoleAnon, PermissionCreateNotification))
	assert.False(t, HasPermission("", PermissionReadNotification))
}

func TestCheckPermission(t *testing.T) {
	assert.NoError(t, CheckPermission(RoleService, PermissionCreateNotification))

	err := CheckPermission(RoleAnon, PermissionCreateNotification)
	var denied *PermissionDeniedError
	if assert.True(t, errors.As(err, &denied)) {
		assert.Equal(t, RoleAnon, denied.Role)
		assert.Equal(t, PermissionCreateNotification, denied.Permission)
	}
}
