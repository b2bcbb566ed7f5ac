// Command netlaunch launches network-deployed applications described by a
// launch descriptor.
//
// Usage:
//
//	netlaunch [flags] <descriptor URL or path>
//	netlaunch --server
//	netlaunch --list-cache | --clear-cache
//
// The descriptor's jars are downloaded into the resource cache, verified,
// and run inside a sandbox unless the descriptor requests, and the user
// grants, more permissions. With --server the control API stays up after
// the launch so other tools can list and stop applications, answer security
// prompts and follow the event stream.
//
// Configuration:
//   - Environment variables with the NETLAUNCH_ prefix
//   - An optional TOML deployment file (--config or NETLAUNCH_DEPLOYMENT_FILE)
//   - CLI flags, which override both
package main
