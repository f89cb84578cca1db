// Пакет rbac — роли пользователей каталога.
// Роли упорядочены: admin включает возможности contributor,
// contributor включает возможности visitor.
package rbac

// Роли в порядке возрастания привилегий.
const (
	RoleVisitor     = "visitor"
	RoleContributor = "contributor"
	RoleAdmin       = "admin"
)

// roleWeight — вес роли для сравнения.
// Чем выше вес, тем больше привилегий.
var roleWeight = map[string]int{
	RoleVisitor:     1,
	RoleContributor: 2,
	RoleAdmin:       3,
}

// AtLeast проверяет, что роль role даёт не меньше привилегий, чем required.
// Неизвестная роль не даёт никаких привилегий.
func AtLeast(role, required string) bool {
	w, ok := roleWeight[role]
	if !ok {
		return false
	}
	return w >= roleWeight[required]
}

// IsAdmin — сокращение для AtLeast(role, RoleAdmin).
func IsAdmin(role string) bool {
	return role == RoleAdmin
}

// CanUpload проверяет право загружать датасеты.
func CanUpload(role string) bool {
	return AtLeast(role, RoleContributor)
}

// IsValidRole проверяет, является ли строка допустимой ролью.
func IsValidRole(role string) bool {
	_, ok := roleWeight[role]
	return ok
}

// Roles возвращает все роли в порядке возрастания привилегий.
func Roles() []string {
	return []string{RoleVisitor, RoleContributor, RoleAdmin}
}
