package middleware

import "github.com/gin-gonic/gin"

// SecurityHeadersMiddleware adds common security headers to every response.
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Prevent MIME-sniffing
		c.Writer.Header().Set("X-Content-Type-Options", "nosniff")

		// Deny framing to prevent clickjacking
		c.Writer.Header().Set("X-Frame-Options", "DENY")

		c.Writer.Header().Set("Referrer-Policy", "no-referrer")

		c.Next()
	}
}
