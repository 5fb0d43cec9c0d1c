// Package settings describes a user's model selection and stored provider
// credentials.
package settings

import "time"

// Settings is the persisted per-user selection. Credentials holds the stored
// (possibly encrypted) secret per provider key.
type Settings struct {
	UserID           string
	SelectedProvider string
	SelectedModel    string
	Credentials      map[string]string
	UpdatedAt        time.Time
}

// Selection is a partial update of the selected provider and model; nil fields
// are left as they are.
type Selection struct {
	Provider *string
	Model    *string
}
