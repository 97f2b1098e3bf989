// Package server composes and runs the auth process boundary.
//
// It hosts the JSON HTTP API plus a gRPC health endpoint, opens the shared
// SQLite store, and runs the periodic cleanup that bounds the growth of
// expired flow and token rows.
package server
