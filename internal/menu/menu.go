// Package menu resolves a table token into the restaurant scope a voice
// session operates on: the product snapshot and the pre-rendered menu
// context the assistant prompt embeds.
package menu

import (
	"context"
	"errors"
)

// ErrScopeNotFound reports an unknown or inactive table token.
var ErrScopeNotFound = errors.New("table token not found")

type Allergen struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Icon string `json:"icon,omitempty"`
}

type Product struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Price       float64    `json:"price"`
	Category    string     `json:"category"`
	ImageURL    string     `json:"image_url,omitempty"`
	Allergens   []Allergen `json:"allergens,omitempty"`
}

// Scope is the immutable per-connection view of one restaurant table. The
// snapshot is taken once at connect time; menu edits mid-session do not
// affect a live conversation.
type Scope struct {
	ScopeID     string
	TableName   string
	Products    []Product
	MenuContext string
}

// Store looks up the scope behind a table token.
type Store interface {
	LookupScope(ctx context.Context, tableToken string) (Scope, error)
}
