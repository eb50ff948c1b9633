package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/servicedesk/crm-service/internal/domain"
	apperrors "github.com/servicedesk/crm-service/pkg/util"
)

const principalKey = "auth_principal"

// Principal represents the authenticated caller, decoded entirely from
// the bearer credential.
type Principal struct {
	ID    string
	Name  string
	Email string
	Role  domain.Role
}

// Gate validates bearer tokens and attaches the principal to the request.
type Gate struct {
	tokens *TokenManager
}

// NewGate constructs the authentication gate.
func NewGate(tokens *TokenManager) *Gate {
	return &Gate{tokens: tokens}
}

// Handle enforces authentication for protected routes.
func (g *Gate) Handle(c *fiber.Ctx) error {
	claims, err := g.claimsFromRequest(c)
	if err != nil {
		return err
	}
	c.Locals(principalKey, &Principal{
		ID:    claims.Subject,
		Name:  claims.Name,
		Email: claims.Email,
		Role:  claims.Role,
	})
	return c.Next()
}

// RequireRole composes the decode step with a role check. The produced
// middleware fails with FORBIDDEN, carrying the required and actual
// roles, when the caller's role is not in the allowed set.
func (g *Gate) RequireRole(allowed ...domain.Role) fiber.Handler {
	allowedSet := make(map[domain.Role]struct{}, len(allowed))
	names := make([]string, 0, len(allowed))
	for _, role := range allowed {
		allowedSet[role] = struct{}{}
		names = append(names, string(role))
	}

	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			claims, err := g.claimsFromRequest(c)
			if err != nil {
				return err
			}
			principal = &Principal{
				ID:    claims.Subject,
				Name:  claims.Name,
				Email: claims.Email,
				Role:  claims.Role,
			}
			c.Locals(principalKey, principal)
		}
		if len(allowedSet) == 0 {
			return c.Next()
		}
		if _, exists := allowedSet[principal.Role]; !exists {
			return apperrors.NewForbiddenRole(names, string(principal.Role))
		}
		return c.Next()
	}
}

func (g *Gate) claimsFromRequest(c *fiber.Ctx) (*Claims, error) {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return nil, apperrors.NewUnauthorized("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, apperrors.NewUnauthorized("invalid authorization header")
	}

	claims, err := g.tokens.ParseToken(parts[1])
	if err != nil {
		return nil, apperrors.NewUnauthorized("invalid token")
	}
	return claims, nil
}

// ParseToken exposes raw token validation for non-HTTP entry points such
// as the websocket upgrade.
func (g *Gate) ParseToken(token string) (*Principal, error) {
	claims, err := g.tokens.ParseToken(token)
	if err != nil {
		return nil, err
	}
	return &Principal{
		ID:    claims.Subject,
		Name:  claims.Name,
		Email: claims.Email,
		Role:  claims.Role,
	}, nil
}

// PrincipalFromContext retrieves the authenticated entity.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}
