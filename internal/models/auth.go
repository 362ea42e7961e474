package models

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/estate-erp-api/internal/filter"
)

// JWTClaims represents the JWT payload for access tokens. Tokens are issued
// by the identity service; this API only verifies them.
type JWTClaims struct {
	UserID       string   `json:"user_id"`
	Role         UserRole `json:"role"`
	RoleID       string   `json:"role_id,omitempty"`
	Email        string   `json:"email"`
	FullName     string   `json:"full_name"`
	Permissions  []string `json:"permissions,omitempty"`
	CompanyID    string   `json:"company_id,omitempty"`
	DepartmentID string   `json:"department_id,omitempty"`
	PropertyIDs  []string `json:"property_ids,omitempty"`
	jwt.RegisteredClaims
}

// PermissionContext derives the caller's authorization scope from verified claims.
func (c *JWTClaims) PermissionContext() filter.PermissionContext {
	if c == nil {
		return filter.PermissionContext{}
	}
	return filter.PermissionContext{
		UserID:       c.UserID,
		RoleID:       c.RoleID,
		RoleName:     string(c.Role),
		Permissions:  append([]string(nil), c.Permissions...),
		CompanyID:    c.CompanyID,
		DepartmentID: c.DepartmentID,
		PropertyIDs:  append([]string(nil), c.PropertyIDs...),
	}
}
