// Package manifest enforces the security attributes an archive manifest
// declares about itself: Trusted-Only, Codebase, Permissions,
// Application-Library-Allowable-Codebase and Entry-Point.
package manifest
