// Package middleware holds the HTTP middleware of the control API.
//
//   - CORS: browser origins allowed to call the API, with one * wildcard
//     per origin (http://localhost:*)
//   - RateLimit: per-IP token buckets; idle clients are swept
//   - GlobalRateLimit: one bucket shared by every client
//
// Example Usage:
//
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
