// Package conduit carries cross-pod messages.
//
// Client posts xpod messages to the /conduit endpoint of the target pod,
// authenticated with an HS256 JWT signed over the shared pod secret and
// naming the sending pod as issuer. Server is the gin handler for that
// endpoint. Loopback connects handlers in one process, which tests use to
// run several pods against separate databases.
package conduit
