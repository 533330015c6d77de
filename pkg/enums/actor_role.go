package enums

// ActorRole is the role carried in access-token claims.
type ActorRole string

const (
	ActorRoleUser     ActorRole = "user"
	ActorRoleOperator ActorRole = "operator"
)

// IsValid reports whether the role is one the API recognizes.
func (r ActorRole) IsValid() bool {
	return r == ActorRoleUser || r == ActorRoleOperator
}
