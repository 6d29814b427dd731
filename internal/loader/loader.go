// Package loader fills the cache from a Source. Category fetches form a
// small dependency graph: motorcycles first, then their receptions and
// orders, then diagnoses and the staff named on them.
package loader

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/duisenbekovayan/motoshop/internal/cache"
	"github.com/duisenbekovayan/motoshop/internal/metrics"
	model "github.com/duisenbekovayan/motoshop/internal/models"
	"github.com/duisenbekovayan/motoshop/internal/source"
)

type Loader struct {
	src   source.Source
	store *cache.Store
	log   *zap.Logger
	limit int
}

type Option func(*Loader)

func WithLogger(l *zap.Logger) Option { return func(ld *Loader) { ld.log = l } }

// WithConcurrency bounds per-item fetches within one category.
func WithConcurrency(n int) Option { return func(ld *Loader) { ld.limit = n } }

func New(src source.Source, store *cache.Store, opts ...Option) *Loader {
	l := &Loader{src: src, store: store, log: zap.NewNop(), limit: 4}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Graph builds the fetch graph. Without a customer only shop-wide
// categories (parts, services) are loaded.
func (l *Loader) Graph(customerID string) *Graph {
	g := NewGraph()
	g.Add(l.task(model.Parts, customerID))
	g.Add(l.task(model.Services, customerID))
	if customerID == "" {
		return g
	}
	for _, c := range []model.Category{model.Motorcycles, model.Receptions, model.Orders, model.Diagnosis, model.Staffs, model.Appointments} {
		g.Add(l.task(c, customerID))
	}
	return g
}

var deps = map[model.Category][]model.Category{
	model.Receptions: {model.Motorcycles},
	model.Orders:     {model.Motorcycles},
	model.Diagnosis:  {model.Orders},
	model.Staffs:     {model.Orders, model.Receptions},
}

func (l *Loader) task(c model.Category, customerID string) Task {
	var names []string
	for _, d := range deps[c] {
		names = append(names, string(d))
	}
	return Task{
		Name: string(c),
		Deps: names,
		Run: func(ctx context.Context) error {
			return l.fetch(ctx, c, customerID, false)
		},
	}
}

// Load runs the whole graph for customerID.
func (l *Loader) Load(ctx context.Context, customerID string) (Report, error) {
	rep, err := l.Graph(customerID).Run(ctx)
	if err != nil {
		return nil, err
	}
	if failed := rep.Failed(); len(failed) > 0 {
		l.log.Warn("load finished with failures", zap.String("customer", customerID), zap.Strings("failed", failed))
	} else {
		l.log.Info("load finished", zap.String("customer", customerID))
	}
	return rep, nil
}

// Refresh refetches one category, assuming its dependencies are cached.
// Unlike Load it also refetches diagnoses and staff already cached.
func (l *Loader) Refresh(ctx context.Context, customerID string, c model.Category) error {
	if !c.Known() {
		return fmt.Errorf("unknown category %q", c)
	}
	return l.fetch(ctx, c, customerID, true)
}

// fetch wraps one category load with the loading/error bookkeeping. On
// failure the cached records are kept.
func (l *Loader) fetch(ctx context.Context, c model.Category, customerID string, refetch bool) error {
	l.store.SetLoading(c, true)
	l.store.ClearError(c)
	defer l.store.SetLoading(c, false)

	err := l.load(ctx, c, customerID, refetch)
	if err != nil {
		metrics.FetchTotal.WithLabelValues(string(c), "error").Inc()
		l.store.SetError(c, err.Error())
		l.log.Warn("fetch failed", zap.String("category", string(c)), zap.Error(err))
		return err
	}
	metrics.FetchTotal.WithLabelValues(string(c), "ok").Inc()
	return nil
}

// load fetches c. Cached diagnoses and staff are skipped unless refetch.
func (l *Loader) load(ctx context.Context, c model.Category, customerID string, refetch bool) error {
	pending := func(cat model.Category, ids []string) []string {
		if refetch {
			return ids
		}
		return missing(l.store, cat, ids)
	}
	switch c {
	case model.Parts:
		return l.upsert(c, func() ([]model.Record, error) { return l.src.Parts(ctx) })
	case model.Services:
		return l.upsert(c, func() ([]model.Record, error) { return l.src.Services(ctx) })
	case model.Motorcycles:
		return l.upsert(c, func() ([]model.Record, error) { return l.src.Motorcycles(ctx, customerID) })
	case model.Appointments:
		return l.upsert(c, func() ([]model.Record, error) { return l.src.Appointments(ctx, customerID) })
	case model.Receptions:
		return l.each(ctx, l.store.IDs(model.Motorcycles), func(ctx context.Context, motoID string) error {
			return l.upsert(c, func() ([]model.Record, error) { return l.src.Receptions(ctx, motoID) })
		})
	case model.Orders:
		return l.each(ctx, l.store.IDs(model.Motorcycles), func(ctx context.Context, motoID string) error {
			return l.upsert(c, func() ([]model.Record, error) { return l.src.Orders(ctx, motoID) })
		})
	case model.Diagnosis:
		return l.each(ctx, pending(model.Diagnosis, l.store.IDs(model.Orders)), func(ctx context.Context, orderID string) error {
			r, err := l.src.Diagnosis(ctx, orderID)
			if errors.Is(err, source.ErrNotFound) {
				return nil // not diagnosed yet
			}
			if err != nil {
				return fmt.Errorf("order %s: %w", orderID, err)
			}
			l.store.SetRecord(model.Diagnosis, orderID, r)
			return nil
		})
	case model.Staffs:
		ids := staffIDs(l.store.GetAll(model.Orders), l.store.GetAll(model.Receptions))
		return l.each(ctx, pending(model.Staffs, ids), func(ctx context.Context, staffID string) error {
			r, err := l.src.Staff(ctx, staffID)
			if err != nil {
				return fmt.Errorf("staff %s: %w", staffID, err)
			}
			l.store.SetRecord(model.Staffs, staffID, r)
			return nil
		})
	}
	return fmt.Errorf("no fetch for category %q", c)
}

func (l *Loader) upsert(c model.Category, get func() ([]model.Record, error)) error {
	recs, err := get()
	if err != nil {
		return err
	}
	return l.store.UpsertMany(c, recs, c.IDField())
}

// each runs fn for every id with bounded concurrency. One failing id
// does not stop the others; all errors are returned joined.
func (l *Loader) each(ctx context.Context, ids []string, fn func(context.Context, string) error) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(l.limit)
	for _, id := range ids {
		g.Go(func() error {
			if err := fn(ctx, id); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func missing(s *cache.Store, c model.Category, ids []string) []string {
	var out []string
	for _, id := range ids {
		if !s.Has(c, id) {
			out = append(out, id)
		}
	}
	return out
}

// staffIDs collects the distinct non-null staff_id values.
func staffIDs(groups ...[]model.Record) []string {
	seen := make(map[string]bool)
	var out []string
	for _, recs := range groups {
		for _, r := range recs {
			id, ok := r.ID("staff_id")
			if !ok || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
