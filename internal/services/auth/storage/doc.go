// Package storage defines persistence contracts for credential state.
//
// These interfaces exist so ceremony and token logic can depend on stable
// transactional semantics without coupling to SQLite schema details.
package storage
