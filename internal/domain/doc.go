// Package domain defines the core domain types and interfaces.
//
// Contracts only: the topic index, the cross-node relay, and the frames that
// travel over the wire. Implementations live under internal/adapter.
package domain
