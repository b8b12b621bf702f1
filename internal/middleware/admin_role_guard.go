package middleware

import (
	"net/http"

	"farmstore/internal/domain/model"

	"github.com/labstack/echo/v4"
)

// contextに入っているroleが許可されたものか確認します。AuthJWTの後に置く。
func RoleGuard(allowed ...model.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := PrincipalFrom(c)
			if !ok || p.Role == "" {
				return c.JSON(http.StatusUnauthorized, errorJSON("UNAUTHORIZED", "unauthorized"))
			}

			for _, r := range allowed {
				if p.Role == r {
					return next(c)
				}
			}
			return c.JSON(http.StatusForbidden, errorJSON("FORBIDDEN", "forbidden"))
		}
	}
}

// ADMINだけ許可
func AdminRoleGuard() echo.MiddlewareFunc {
	return RoleGuard(model.RoleAdmin)
}
