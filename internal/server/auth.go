package server

import (
	"context"
	"crypto/subtle"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/dojopay/internal/authorization"
	obscontext "github.com/smallbiznis/dojopay/internal/observability/context"
	"golang.org/x/crypto/bcrypt"
)

const (
	HeaderSweepSecret = "X-Sweep-Secret"

	contextAuthRoleKey = "auth_role"
)

type authRoleKey struct{}

// TokenRequired authenticates bearer tokens against the configured bcrypt
// hashes. The first role whose hash matches wins; staff is checked first.
func (s *Server) TokenRequired() gin.HandlerFunc {
	roles := orderedRoles(s.cfg.Auth.TokenHashes)
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		role := ""
		for _, candidate := range roles {
			if matchesAny(s.cfg.Auth.TokenHashes[candidate], token) {
				role = candidate
				break
			}
		}
		if role == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		s.setRole(c, role, "token")
		c.Next()
	}
}

// SweepSecretRequired guards the sweep trigger. Without a configured secret
// the route refuses with a configuration error.
func (s *Server) SweepSecretRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := strings.TrimSpace(s.cfg.SweepTriggerSecret)
		if secret == "" {
			AbortWithError(c, ErrConfiguration)
			return
		}
		provided := strings.TrimSpace(c.GetHeader(HeaderSweepSecret))
		if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		s.setRole(c, authorization.RoleScheduler, "sweep_secret")
		c.Next()
	}
}

func (s *Server) authorize(object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := roleFromContext(c.Request.Context())
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if err := s.authz.Authorize(c.Request.Context(), role, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func (s *Server) setRole(c *gin.Context, role, actorType string) {
	ctx := context.WithValue(c.Request.Context(), authRoleKey{}, role)
	ctx = obscontext.WithActor(ctx, actorType, role)
	c.Request = c.Request.WithContext(ctx)
	c.Set(contextAuthRoleKey, role)
}

func roleFromContext(ctx context.Context) (string, bool) {
	role, ok := ctx.Value(authRoleKey{}).(string)
	if !ok || strings.TrimSpace(role) == "" {
		return "", false
	}
	return role, true
}

func bearerToken(header string) (string, bool) {
	parts := strings.Fields(strings.TrimSpace(header))
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return parts[1], true
}

func matchesAny(hashes []string, token string) bool {
	for _, hash := range hashes {
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil {
			return true
		}
	}
	return false
}

func orderedRoles(hashes map[string][]string) []string {
	roles := make([]string, 0, len(hashes))
	for role := range hashes {
		roles = append(roles, role)
	}
	rank := func(role string) int {
		switch role {
		case authorization.RoleStaff:
			return 0
		case authorization.RoleMember:
			return 1
		default:
			return 2
		}
	}
	sort.Slice(roles, func(i, j int) bool {
		if rank(roles[i]) != rank(roles[j]) {
			return rank(roles[i]) < rank(roles[j])
		}
		return roles[i] < roles[j]
	})
	return roles
}
