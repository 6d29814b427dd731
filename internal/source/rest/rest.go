// Package rest reads records from the shop's customer, repair and
// resource HTTP services.
package rest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	model "github.com/duisenbekovayan/motoshop/internal/models"
	"github.com/duisenbekovayan/motoshop/internal/source"
)

const (
	Customer = "customer"
	Repair   = "repair"
	Resource = "resource"
)

// Route is a GET endpoint on one of the services. "{id}" in Path is
// replaced by the escaped argument.
type Route struct {
	Service string `yaml:"service"`
	Path    string `yaml:"path"`
}

type Routes struct {
	MotorcyclesByCustomer  Route                    `yaml:"motorcycles_by_customer"`
	ReceptionsByMotorcycle Route                    `yaml:"receptions_by_motorcycle"`
	OrdersByMotorcycle     Route                    `yaml:"orders_by_motorcycle"`
	AppointmentsByCustomer Route                    `yaml:"appointments_by_customer"`
	Parts                  Route                    `yaml:"parts"`
	Services               Route                    `yaml:"services"`
	DiagnosisByOrder       Route                    `yaml:"diagnosis_by_order"`
	Staff                  Route                    `yaml:"staff"`
	ByID                   map[model.Category]Route `yaml:"by_id"`
}

func DefaultRoutes() Routes {
	return Routes{
		MotorcyclesByCustomer:  Route{Customer, "/motorcycles?customer_id={id}"},
		ReceptionsByMotorcycle: Route{Customer, "/receptions?motocycle_id={id}&skip=0&limit=1000"},
		OrdersByMotorcycle:     Route{Repair, "/order/motorcycle/{id}"},
		AppointmentsByCustomer: Route{Customer, "/appointment/all?customer_id={id}&skip=0&limit=1000"},
		Parts:                  Route{Resource, "/parts"},
		Services:               Route{Resource, "/services"},
		DiagnosisByOrder:       Route{Repair, "/diagnosis/order/{id}"},
		Staff:                  Route{Resource, "/staff/{id}"},
		ByID: map[model.Category]Route{
			model.Orders:       {Repair, "/order/{id}"},
			model.Motorcycles:  {Customer, "/motorcycle/{id}"},
			model.Receptions:   {Customer, "/reception/{id}"},
			model.Appointments: {Customer, "/appointment/{id}"},
			model.Parts:        {Resource, "/part/{id}"},
			model.Services:     {Resource, "/service/{id}"},
			model.Diagnosis:    {Repair, "/diagnosis/order/{id}"},
			model.Staffs:       {Resource, "/staff/{id}"},
		},
	}
}

type Config struct {
	CustomerURL string
	RepairURL   string
	ResourceURL string
	Token       string // sent as a bearer token when set
	Timeout     time.Duration
	Routes      Routes
}

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
	URL  string
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d: %s", e.URL, e.Code, e.Body)
}

func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusNotFound {
		return source.ErrNotFound
	}
	return nil
}

type Client struct {
	cfg  Config
	http *http.Client
	log  *zap.Logger
}

var _ source.Source = (*Client)(nil)

func New(cfg Config, log *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	def := DefaultRoutes()
	fillRoute(&cfg.Routes.MotorcyclesByCustomer, def.MotorcyclesByCustomer)
	fillRoute(&cfg.Routes.ReceptionsByMotorcycle, def.ReceptionsByMotorcycle)
	fillRoute(&cfg.Routes.OrdersByMotorcycle, def.OrdersByMotorcycle)
	fillRoute(&cfg.Routes.AppointmentsByCustomer, def.AppointmentsByCustomer)
	fillRoute(&cfg.Routes.Parts, def.Parts)
	fillRoute(&cfg.Routes.Services, def.Services)
	fillRoute(&cfg.Routes.DiagnosisByOrder, def.DiagnosisByOrder)
	fillRoute(&cfg.Routes.Staff, def.Staff)
	if cfg.Routes.ByID == nil {
		cfg.Routes.ByID = make(map[model.Category]Route)
	}
	for c, r := range def.ByID {
		if _, ok := cfg.Routes.ByID[c]; !ok {
			cfg.Routes.ByID[c] = r
		}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, log: log}
}

func fillRoute(r *Route, def Route) {
	if r.Path == "" {
		*r = def
	}
}

func (c *Client) base(service string) (string, error) {
	var b string
	switch service {
	case Customer:
		b = c.cfg.CustomerURL
	case Repair:
		b = c.cfg.RepairURL
	case Resource:
		b = c.cfg.ResourceURL
	}
	if b == "" {
		return "", fmt.Errorf("no base url for service %q", service)
	}
	return strings.TrimRight(b, "/"), nil
}

func (c *Client) get(ctx context.Context, r Route, id string) ([]byte, error) {
	base, err := c.base(r.Service)
	if err != nil {
		return nil, err
	}
	u := base + strings.ReplaceAll(r.Path, "{id}", url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, err
	}
	c.log.Debug("backend request", zap.String("url", u), zap.Int("status", resp.StatusCode), zap.Duration("took", time.Since(start)))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(body)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, &StatusError{Code: resp.StatusCode, URL: u, Body: snippet}
	}
	return unwrap(body), nil
}

// unwrap returns the "data" member when the backend wraps its payload.
func unwrap(body []byte) []byte {
	if d := gjson.GetBytes(body, "data"); d.IsArray() || d.IsObject() {
		return []byte(d.Raw)
	}
	return body
}

func (c *Client) list(ctx context.Context, r Route, id string) ([]model.Record, error) {
	b, err := c.get(ctx, r, id)
	if err != nil {
		return nil, err
	}
	recs, err := model.DecodeRecords(b)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", r.Path, err)
	}
	return recs, nil
}

func (c *Client) one(ctx context.Context, r Route, id string) (model.Record, error) {
	recs, err := c.list(ctx, r, id)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: %s", source.ErrNotFound, id)
	}
	return recs[0], nil
}

func (c *Client) Motorcycles(ctx context.Context, customerID string) ([]model.Record, error) {
	return c.list(ctx, c.cfg.Routes.MotorcyclesByCustomer, customerID)
}

func (c *Client) Receptions(ctx context.Context, motorcycleID string) ([]model.Record, error) {
	return c.list(ctx, c.cfg.Routes.ReceptionsByMotorcycle, motorcycleID)
}

func (c *Client) Orders(ctx context.Context, motorcycleID string) ([]model.Record, error) {
	return c.list(ctx, c.cfg.Routes.OrdersByMotorcycle, motorcycleID)
}

func (c *Client) Appointments(ctx context.Context, customerID string) ([]model.Record, error) {
	return c.list(ctx, c.cfg.Routes.AppointmentsByCustomer, customerID)
}

func (c *Client) Parts(ctx context.Context) ([]model.Record, error) {
	return c.list(ctx, c.cfg.Routes.Parts, "")
}

func (c *Client) Services(ctx context.Context) ([]model.Record, error) {
	return c.list(ctx, c.cfg.Routes.Services, "")
}

func (c *Client) Diagnosis(ctx context.Context, orderID string) (model.Record, error) {
	return c.one(ctx, c.cfg.Routes.DiagnosisByOrder, orderID)
}

func (c *Client) Staff(ctx context.Context, staffID string) (model.Record, error) {
	return c.one(ctx, c.cfg.Routes.Staff, staffID)
}

func (c *Client) Record(ctx context.Context, cat model.Category, id string) (model.Record, error) {
	r, ok := c.cfg.Routes.ByID[cat]
	if !ok {
		return nil, fmt.Errorf("%w: no route for %s", source.ErrNotFound, cat)
	}
	return c.one(ctx, r, id)
}
