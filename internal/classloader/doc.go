// Package classloader turns the jars of a launch descriptor into loadable
// classes.
//
// A Loader owns the jars of one descriptor; extension descriptors get their
// own loaders, reachable from the root. Jars are fetched through the resource
// cache, verified and given a SecurityDesc before any class they contain can
// be defined. Lazy jars and named parts are activated on demand, and
// concurrent requests for the same jar share one fetch.
//
// Classes are scripts: class a.b.C lives in the archive entry a/b/C.js and is
// compiled by the script package when first looked up.
package classloader
