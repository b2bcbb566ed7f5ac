// Package trust supplies certificate, key and proxy material to the
// launcher: the pool signatures are verified against, the client
// certificate presented to servers that ask for one, and the proxy chosen
// for each download.
package trust
