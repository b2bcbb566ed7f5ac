// Package config loads launcher configuration.
//
// Values come from environment variables (prefix NETLAUNCH_) with defaults,
// then an optional TOML deployment file named by NETLAUNCH_DEPLOYMENT_FILE is
// overlaid on top. Keys present in the deployment file win; this mirrors a
// system administrator locking deployment settings for every user.
//
// Sections:
//   - Security: sandbox enforcement, prompt automation, manifest checks
//   - Launch: forking strategy, property blacklist, stop grace period
//   - Cache: resource cache directory and HTTP fetch behaviour
//   - Trust: certificate stores, client keystore, proxy
//   - Server: optional control API
//   - Logging: level and format
//
// Example:
//
//	cfg, err := config.Load()
//	if err != nil {
//		return err
//	}
//	fmt.Println(cfg.Security.ManifestChecks)
package config
