package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/api/handler/v1/response"
	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/pkg/jwthelper"
)

// ClaimsKey is the gin context key holding the verified *jwthelper.Claims.
const ClaimsKey = "claims"

var errMissingBearer = errors.New("missing bearer token")

type Authenticator struct {
	key []byte
}

func NewAuthenticator(key string) *Authenticator {
	return &Authenticator{key: []byte(key)}
}

func (a *Authenticator) VerifyJWT() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		header := ctx.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			response.RenderErr(ctx, response.ErrUnauthorized(errMissingBearer))
			return
		}

		claims, err := jwthelper.ParseToken(a.key, token)
		if err != nil {
			if errors.Is(err, jwthelper.ErrMissingScope) {
				response.RenderErr(ctx, response.ErrPermissionDenied(err))
				return
			}
			response.RenderErr(ctx, response.ErrUnauthorized(jwthelper.ErrInvalidToken))
			return
		}

		ctx.Set(ClaimsKey, claims)
		ctx.Next()
	}
}
