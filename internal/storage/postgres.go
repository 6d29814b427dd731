package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	model "github.com/duisenbekovayan/motoshop/internal/models"
	"github.com/duisenbekovayan/motoshop/internal/source"
)

// table maps a category to the backend table holding it. Staff rows drop
// the password column.
type table struct {
	name   string
	key    string
	redact []string
}

var tables = map[model.Category]table{
	model.Orders:       {name: `"Order"`, key: "order_id"},
	model.Motorcycles:  {name: `"Motocycle"`, key: "motocycle_id"},
	model.Receptions:   {name: `"ReceptionForm"`, key: "form_id"},
	model.Diagnosis:    {name: `"Diagnosis"`, key: "order_id"},
	model.Staffs:       {name: `"Staff"`, key: "staff_id", redact: []string{"password"}},
	model.Parts:        {name: `"Part"`, key: "part_id"},
	model.Services:     {name: `"Service"`, key: "service_id"},
	model.Appointments: {name: `"Appointment"`, key: "appointment_id"},
}

// PG reads records straight from the shop database.
type PG struct{ DB *sql.DB }

var _ source.Source = (*PG)(nil)

func New(dsn string) (*PG, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(time.Hour)
	return &PG{DB: db}, db.Ping()
}

func (p *PG) Close() error { return p.DB.Close() }

func selectJSON(t table) string {
	expr := "to_jsonb(t)"
	for _, col := range t.redact {
		expr += " - '" + col + "'"
	}
	return "SELECT " + expr + " FROM " + t.name + " t"
}

func (p *PG) query(ctx context.Context, q string, args ...any) ([]model.Record, error) {
	rows, err := p.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []model.Record
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var r model.Record
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

func (p *PG) list(ctx context.Context, c model.Category, where string, args ...any) ([]model.Record, error) {
	q := selectJSON(tables[c])
	if where != "" {
		q += " WHERE " + where
	}
	recs, err := p.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c, err)
	}
	return recs, nil
}

func (p *PG) Motorcycles(ctx context.Context, customerID string) ([]model.Record, error) {
	return p.list(ctx, model.Motorcycles, "customer_id = $1", customerID)
}

func (p *PG) Receptions(ctx context.Context, motorcycleID string) ([]model.Record, error) {
	return p.list(ctx, model.Receptions, "motocycle_id = $1", motorcycleID)
}

func (p *PG) Orders(ctx context.Context, motorcycleID string) ([]model.Record, error) {
	return p.list(ctx, model.Orders, "motocycle_id = $1", motorcycleID)
}

func (p *PG) Appointments(ctx context.Context, customerID string) ([]model.Record, error) {
	return p.list(ctx, model.Appointments, "customer_id = $1", customerID)
}

func (p *PG) Parts(ctx context.Context) ([]model.Record, error) {
	return p.list(ctx, model.Parts, "")
}

func (p *PG) Services(ctx context.Context) ([]model.Record, error) {
	return p.list(ctx, model.Services, "")
}

func (p *PG) Diagnosis(ctx context.Context, orderID string) (model.Record, error) {
	return p.Record(ctx, model.Diagnosis, orderID)
}

func (p *PG) Staff(ctx context.Context, staffID string) (model.Record, error) {
	return p.Record(ctx, model.Staffs, staffID)
}

func (p *PG) Record(ctx context.Context, c model.Category, id string) (model.Record, error) {
	t, ok := tables[c]
	if !ok {
		return nil, fmt.Errorf("%w: no table for %s", source.ErrNotFound, c)
	}
	var raw []byte
	err := p.DB.QueryRowContext(ctx, selectJSON(t)+" WHERE "+t.key+"::text = $1 LIMIT 1", id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s %s", source.ErrNotFound, c, id)
	}
	if err != nil {
		return nil, err
	}
	var r model.Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	return r, nil
}

// LastOrders returns the most recent orders, used to warm the cache.
func (p *PG) LastOrders(ctx context.Context, limit int) ([]model.Record, error) {
	return p.list(ctx, model.Orders, "TRUE ORDER BY created_at DESC NULLS LAST LIMIT $1", limit)
}

func DSN(host string, port int, user, pass, db string) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable", user, pass, host, port, db)
}
