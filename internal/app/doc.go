// Package app holds the background jobs a node runs next to its sockets:
// the leader-elected topic sweeper and the optional demo publisher.
package app
