// Package instance manages running applications.
//
// An Instance ties a descriptor to its class loader, the thread group its
// units of work run in, its windows and its own system properties. It moves
// through CREATED, INITIALIZED, RUNNING and STOPPED; stopping is idempotent
// and never reaches into another instance's units.
//
// The Registry keys instances by ApplicationHandle and by the IDs of their
// loaders. Entries are removed explicitly when an instance stops.
package instance
