// Package token mints signed access tokens and manages rotating refresh
// tokens.
//
// Access tokens are stateless: privilege claims are computed from the
// account row at mint time and verified by signature alone. Refresh tokens
// are stored by digest only and rotate atomically, so a stolen token stops
// working the moment its legitimate holder rotates it.
package token
