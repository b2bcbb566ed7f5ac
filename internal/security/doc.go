// Package security is the runtime policy enforcement point.
//
// Every permission-guarded host call made by application code passes
// through Manager.Check. The caller's application is found from the archive
// frames on its script stack, and each frame must hold the permission in its
// application's engine. Exit and top-level window requests have dedicated
// checks because they act on the application as a whole.
package security
