package middlewares

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type binder struct {
	echo.DefaultBinder
	methodsWithBody map[string]bool
}

// NewBinder returns a wrapp of the default binder implementation with extra checks.
func NewBinder() echo.Binder {
	return &binder{
		methodsWithBody: map[string]bool{
			http.MethodPost:  true,
			http.MethodPatch: true,
			http.MethodPut:   true,
		},
	}
}

// Bind implements the echo.Bind interface.
// Bodies are mandatory for the methods carrying one, except for the routes whose params are all optional.
func (b *binder) Bind(i any, c echo.Context) (err error) {
	if c.Request().ContentLength == 0 && b.methodsWithBody[c.Request().Method] {
		if _, optional := i.(Optional); !optional {
			return echo.NewHTTPError(http.StatusBadRequest, "Request body can't be empty")
		}
		return nil
	}
	return b.DefaultBinder.Bind(i, c)
}

// Optional is implemented by the params that can be omitted altogether.
type Optional interface {
	Optional()
}
