package credentials

import (
	"fmt"

	"agenthub/internal/domain"
)

// ForbiddenError reports a failed role check.
type ForbiddenError struct {
	Role string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("requires role %q", e.Role)
}

// RequireRole passes when the claims carry the wanted role. Admins pass
// every check.
func RequireRole(c *Claims, role string) error {
	if c != nil && (c.Role == role || c.Role == domain.RoleAdmin) {
		return nil
	}
	return ForbiddenError{Role: role}
}
