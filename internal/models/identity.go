// Package models provides data model definitions for the HazSync coordination core.
package models

// Identity is the verified identity bound to a connection after the
// authentication handshake. It is immutable for the connection's lifetime.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}
