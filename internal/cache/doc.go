// Package cache fetches remote resources into a local directory.
//
// Remote archives are downloaded once per URL and version through a resty
// client backed by a retryablehttp transport, a token bucket limiter and a
// circuit breaker per host. Concurrent requests for the same resource share
// a single download. file: URLs are served in place.
//
// Example:
//
//	svc, err := cache.NewHTTPService(cfg.Cache, logger, metrics)
//	local, err := svc.Fetch(ctx, jarURL, "1.2")
package cache
