package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// ValidationMiddleware rejects unsupported methods and non-JSON bodies
// before any handler runs
func ValidationMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !isValidMethod(c.Request().Method) {
				return c.JSON(http.StatusMethodNotAllowed, map[string]string{
					"error": "Method not allowed",
				})
			}

			// Simulation control posts carry no body; only posts with a
			// payload must declare JSON
			if c.Request().Method == http.MethodPost && c.Request().ContentLength > 0 {
				contentType := c.Request().Header.Get(echo.HeaderContentType)
				if !strings.HasPrefix(contentType, echo.MIMEApplicationJSON) {
					return c.JSON(http.StatusBadRequest, map[string]string{
						"error": "Content-Type must be application/json",
					})
				}
			}

			return next(c)
		}
	}
}

// isValidMethod checks if the HTTP method is allowed
func isValidMethod(method string) bool {
	allowedMethods := []string{"GET", "POST", "DELETE", "OPTIONS"}
	for _, m := range allowedMethods {
		if method == m {
			return true
		}
	}
	return false
}
