// Package source defines where cache records come from. Implementations
// live in source/rest (the shop's HTTP services) and storage (direct
// Postgres reads).
package source

import (
	"context"
	"errors"

	model "github.com/duisenbekovayan/motoshop/internal/models"
)

var ErrNotFound = errors.New("not found")

// Source fetches records. List methods return the records as the backend
// sends them; each one carries its category's ID field.
type Source interface {
	Motorcycles(ctx context.Context, customerID string) ([]model.Record, error)
	Receptions(ctx context.Context, motorcycleID string) ([]model.Record, error)
	Orders(ctx context.Context, motorcycleID string) ([]model.Record, error)
	Appointments(ctx context.Context, customerID string) ([]model.Record, error)
	Parts(ctx context.Context) ([]model.Record, error)
	Services(ctx context.Context) ([]model.Record, error)
	Diagnosis(ctx context.Context, orderID string) (model.Record, error)
	Staff(ctx context.Context, staffID string) (model.Record, error)

	// Record fetches one record of any category by ID.
	Record(ctx context.Context, c model.Category, id string) (model.Record, error)
}
