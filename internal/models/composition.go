package models

import "time"

// MaxTotalPercentage caps the summed weight of a class's compositions.
const MaxTotalPercentage = 100

// Composition is a weighted grading component of a class.
type Composition struct {
	ID         string    `db:"id" json:"id"`
	ClassID    string    `db:"class_id" json:"class_id"`
	Name       string    `db:"name" json:"name"`
	Percentage int       `db:"percentage" json:"percentage"`
	Order      int       `db:"position" json:"order"`
	Finalized  bool      `db:"finalized" json:"finalized"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// CreateCompositionRequest appends a composition to a class.
type CreateCompositionRequest struct {
	ClassID    string `json:"-"`
	Name       string `json:"name" validate:"required,min=1,max=120"`
	Percentage int    `json:"percentage" validate:"min=0,max=100"`
}

// UpdateCompositionRequest edits name and/or percentage.
type UpdateCompositionRequest struct {
	Name       *string `json:"name" validate:"omitempty,min=1,max=120"`
	Percentage *int    `json:"percentage" validate:"omitempty,min=0,max=100"`
}

// UpdateOrderRequest moves a composition to a 1-based position.
type UpdateOrderRequest struct {
	Order int `json:"order" validate:"required,min=1"`
}

// OrderChange is one position rewrite produced by a reorder plan.
type OrderChange struct {
	CompositionID string
	From          int
	To            int
}
