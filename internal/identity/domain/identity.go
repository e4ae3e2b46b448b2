// Package domain holds the account as the application sees it. Credentials live with the identity provider.
package domain

import "strings"

// Account is a provider user with its profile metadata.
type Account struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
}

// DisplayName is the name used in greetings: first name, or email when no name was given.
func (a *Account) DisplayName() string {
	if a == nil {
		return ""
	}
	if n := strings.TrimSpace(a.FirstName); n != "" {
		return n
	}
	return a.Email
}
