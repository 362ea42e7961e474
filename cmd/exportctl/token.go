package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/noah-isme/estate-erp-api/internal/models"
	"github.com/noah-isme/estate-erp-api/internal/service"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Development bearer tokens",
	}

	var (
		claims      models.JWTClaims
		role        string
		permissions []string
		properties  []string
		ttl         time.Duration
	)
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Sign a bearer token with the configured JWT secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			claims.Role = models.UserRole(strings.ToUpper(role))
			claims.Permissions = permissions
			claims.PropertyIDs = properties
			tokens := service.NewTokenService(service.TokenConfig{Secret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer, Expiry: ttl})
			token, expires, err := tokens.IssueToken(claims)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "%s %s\n", colorInfo("expires"), expires.Format(time.RFC3339))
			return nil
		},
	}
	f := issue.Flags()
	f.StringVar(&claims.UserID, "user", "", "subject user id")
	f.StringVar(&role, "role", string(models.RoleEmployee), "role name")
	f.StringSliceVar(&permissions, "permission", nil, "granted permission (repeatable)")
	f.StringVar(&claims.CompanyID, "company", "", "company id")
	f.StringVar(&claims.DepartmentID, "department", "", "department id")
	f.StringSliceVar(&properties, "property", nil, "accessible property id (repeatable)")
	f.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = issue.MarkFlagRequired("user")

	cmd.AddCommand(issue)
	return cmd
}
