package rbac

// 权限常量
const (
	PermissionCreateNotification = "notification:create"
	PermissionReadNotification   = "notification:read"
)

// 角色常量（与 JWT 中的 role claim 对应）
const (
	RoleService       = "service_role"
	RoleAuthenticated = "authenticated"
	RoleAnon          = "anon"
)

// 角色权限映射
var rolePermissions = map[string][]string{
	RoleService: {
		PermissionCreateNotification,
		PermissionReadNotification,
	},
	RoleAuthenticated: {
		PermissionReadNotification,
	},
	RoleAnon: {
		PermissionReadNotification,
	},
}

// HasPermission 检查角色是否有指定权限
func HasPermission(role string, permission string) bool {
	permissions, ok := rolePermissions[role]
	if !ok {
		return false
	}

	for _, p := range permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// CheckPermission 检查角色是否有指定权限（返回错误而不是布尔值，便于处理）
func CheckPermission(role string, permission string) error {
	if !HasPermission(role, permission) {
		return &PermissionDeniedError{
			Role:       role,
			Permission: permission,
		}
	}
	return nil
}

// PermissionDeniedError 表示权限不足的错误
type PermissionDeniedError struct {
	Role       string
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return "insufficient permissions"
}
