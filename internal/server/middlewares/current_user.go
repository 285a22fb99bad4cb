package middlewares

import (
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/mdouchement/timecapsule/internal/database"
	"github.com/pkg/errors"
)

const (
	// CurrentUserContextKey is the key to retrieve the current_user from echo.Context.
	CurrentUserContextKey = "current_user"
	// TokenContextKey is the key to retrieve the parsed JWT from echo.Context.
	TokenContextKey = "token"
)

// CurrentUser checks current_user based on JWT and store it into echo.Context.
func CurrentUser(db database.Client, signingKey []byte) echo.MiddlewareFunc {
	auth := echojwt.WithConfig(echojwt.Config{
		SigningKey: signingKey,
		ContextKey: TokenContextKey,
	})

	fake := func(echo.Context) error {
		return nil
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			if err = auth(fake)(c); err != nil { // Check JWT validity according its claims.
				return unauthorized(c, "Invalid login credentials.")
			}

			token, ok := c.Get(TokenContextKey).(*jwt.Token)
			if !ok {
				panic("token implementation has changed")
			}
			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				panic("token implementation has wrong type of claims")
			}

			id, ok := claims["user_id"].(float64)
			if !ok {
				return unauthorized(c, "Invalid login credentials.")
			}

			// Get current_user.
			user, err := db.FindUser(int(id))
			if err != nil {
				if db.IsNotFound(err) {
					return unauthorized(c, "No such user for given token.")
				}
				return errors.Wrap(err, "could not get access to database")
			}

			// Check if password has changed since token was generated.
			iat, err := claims.GetIssuedAt()
			if err != nil || iat == nil || iat.Unix() < user.PasswordUpdatedAt {
				return unauthorized(c, "Revoked token.")
			}

			// Store current_user for handlers.
			c.Set(CurrentUserContextKey, user)
			return next(c)
		}
	}
}

func unauthorized(c echo.Context, message string) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{
		"error": echo.Map{
			"tag":     "invalid-auth",
			"message": message,
		},
	})
}
