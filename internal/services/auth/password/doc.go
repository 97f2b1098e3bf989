// Package password manages the classic credential path: registration and
// authentication with salted password hashes, and single-use reset tokens.
//
// Lookup failures and hash mismatches are deliberately indistinguishable to
// callers, so neither login nor reset requests can be used to enumerate
// which emails hold accounts.
package password
