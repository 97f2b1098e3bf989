// Package httpapi exposes the auth managers over a JSON HTTP API.
//
// Each endpoint maps to one manager operation and one transaction. The
// package owns serialization and the translation of domain error codes to
// HTTP status codes; business rules live in the managers.
package httpapi
