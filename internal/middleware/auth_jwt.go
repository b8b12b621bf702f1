package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"farmstore/internal/config"
	"farmstore/internal/domain/model"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
)

const (
	CtxPrincipalKey = "principal"  // model.Principal
	CtxRequestIDKey = "request_id" // string
)

// bearerAuth用のJWT検証ミドルウェア。
// トークンの発行はこのサービスの外で行う（sub / name / role を持つHS256トークン）。
func AuthJWT(cfg config.Config) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			//Authorizationヘッダを取得
			authz := c.Request().Header.Get("Authorization")
			if authz == "" {
				return c.JSON(http.StatusUnauthorized, errorJSON("UNAUTHORIZED", "unauthorized"))
			}

			//Bearer形式か確認してtokenを抜く
			parts := strings.SplitN(authz, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				return c.JSON(http.StatusUnauthorized, errorJSON("UNAUTHORIZED", "unauthorized"))
			}
			rawToken := strings.TrimSpace(parts[1])
			if rawToken == "" {
				return c.JSON(http.StatusUnauthorized, errorJSON("UNAUTHORIZED", "unauthorized"))
			}

			//JWTをパースして検証する
			token, err := jwt.Parse(rawToken, func(t *jwt.Token) (interface{}, error) {
				if t.Method != jwt.SigningMethodHS256 {
					return nil, errors.New("unexpected signing method")
				}
				return []byte(cfg.JWTSecret), nil
			})
			if err != nil || token == nil || !token.Valid {
				return c.JSON(http.StatusUnauthorized, errorJSON("UNAUTHORIZED", "unauthorized"))
			}

			//claimsを取り出す
			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				return c.JSON(http.StatusUnauthorized, errorJSON("UNAUTHORIZED", "unauthorized"))
			}

			sub, err := parseSubject(claims["sub"])
			if err != nil || sub == "" {
				return c.JSON(http.StatusUnauthorized, errorJSON("UNAUTHORIZED", "unauthorized"))
			}

			//roleを取り出す（ADMIN/STAFF）
			role, err := parseString(claims["role"])
			if err != nil || role == "" {
				return c.JSON(http.StatusUnauthorized, errorJSON("UNAUTHORIZED", "unauthorized"))
			}

			//nameは任意
			name, _ := parseString(claims["name"])

			//contextへ保存
			c.Set(CtxPrincipalKey, model.Principal{ID: sub, Name: name, Role: model.Role(role)})

			return next(c)
		}
	}
}

// PrincipalFrom returns the principal stored by AuthJWT.
func PrincipalFrom(c echo.Context) (model.Principal, bool) {
	p, ok := c.Get(CtxPrincipalKey).(model.Principal)
	if !ok || p.ID == "" {
		return model.Principal{}, false
	}
	return p, true
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func errorJSON(code, msg string) errorResponse {
	return errorResponse{Error: code, Message: msg}
}

// subは文字列でも数値でも受ける
func parseSubject(v interface{}) (string, error) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), nil
	case float64:
		if t <= 0 {
			return "", errors.New("invalid sub")
		}
		return strconv.FormatInt(int64(t), 10), nil
	default:
		return "", errors.New("invalid sub")
	}
}

func parseString(v interface{}) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", errors.New("invalid string")
	}
	return s, nil
}
