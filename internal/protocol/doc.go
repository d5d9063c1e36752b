// Package protocol defines the wire format between the daemon and its
// clients.
//
// Messages are JSON envelopes carrying a command name and an opaque payload.
// Requests and responses share the envelope shape; responses use the ok and
// error commands. One envelope per connection, newline-delimited.
package protocol
