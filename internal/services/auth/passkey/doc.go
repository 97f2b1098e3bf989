// Package passkey runs the WebAuthn credential lifecycle.
//
// It owns challenge flows from issuance to one-time consumption and keeps
// every account above zero active credentials, so a device loss never locks
// an identity out by our own hand.
package passkey
