// Package httpkit provides HTTP utilities including identity abstraction.
package httpkit

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Identity represents the authenticated user's identity.
// Handlers read the user through it instead of poking at gin context keys.
type Identity interface {
	// Subject returns the token subject.
	Subject() string
	// Email returns the lowercased email the user signed in with. SAM entity
	// ownership is resolved from it.
	Email() string
	// Roles returns the user's assigned roles.
	Roles() []string
	// HasRole checks if the user has a specific role.
	HasRole(role string) bool
	// IsAuthenticated returns true if the user is authenticated.
	IsAuthenticated() bool
}

type identity struct {
	subject       string
	email         string
	roles         []string
	authenticated bool
}

func (i *identity) Subject() string { return i.subject }
func (i *identity) Email() string   { return i.email }
func (i *identity) Roles() []string { return i.roles }

func (i *identity) HasRole(role string) bool {
	for _, r := range i.roles {
		if r == role {
			return true
		}
	}
	return false
}

func (i *identity) IsAuthenticated() bool {
	return i.authenticated
}

// GetIdentity extracts the Identity from a Gin context.
// Returns an unauthenticated identity if user info is not present.
func GetIdentity(c *gin.Context) Identity {
	email := strings.TrimSpace(c.GetString(ContextEmailKey))
	if email == "" {
		return &identity{authenticated: false}
	}

	var roleList []string
	if roles, ok := c.Get(ContextRolesKey); ok {
		roleList, _ = roles.([]string)
	}

	return &identity{
		subject:       c.GetString(ContextSubjectKey),
		email:         strings.ToLower(email),
		roles:         roleList,
		authenticated: true,
	}
}

// MustGetIdentity extracts the Identity from a Gin context.
// If the user is not authenticated, it aborts with 401 Unauthorized and returns nil.
func MustGetIdentity(c *gin.Context) Identity {
	id := GetIdentity(c)
	if !id.IsAuthenticated() {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return nil
	}
	return id
}
