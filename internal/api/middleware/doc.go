// Package middleware provides the HTTP middleware in front of the fallback
// routes.
//
// Middleware stack includes:
//   - CORS: Cross-origin resource sharing for dashboards on other ports
//   - RateLimit: Per-IP token bucket rate limiting with idle client cleanup
//   - Gzip: Response compression for trace pages
//
// Example Usage:
//
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
//	router.Use(middleware.Gzip(gzip.DefaultCompression, "/ws", "/metrics"))
package middleware
