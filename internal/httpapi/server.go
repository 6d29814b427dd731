package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/duisenbekovayan/motoshop/internal/cache"
	"github.com/duisenbekovayan/motoshop/internal/loader"
	model "github.com/duisenbekovayan/motoshop/internal/models"
	"github.com/duisenbekovayan/motoshop/internal/notify"
	"github.com/duisenbekovayan/motoshop/internal/source"
)

type Deps struct {
	Store      *cache.Store
	Source     source.Source
	Loader     *loader.Loader
	Inbox      *notify.Inbox
	CustomerID string
	Gatherer   prometheus.Gatherer // nil serves the default registry
	Log        *zap.Logger
}

type Server struct {
	srv *http.Server
	d   Deps
	log *zap.Logger
}

func New(addr string, d Deps) *Server {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{d: d, log: d.Log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.status)
		r.Post("/refresh", s.refreshAll)
		r.Post("/refresh/{category}", s.refreshCategory)

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", s.listNotifications)
			r.Delete("/", s.clearNotifications)
			r.Post("/read-all", s.readAllNotifications)
			r.Post("/{id}/read", s.readNotification)
			r.Delete("/{id}", s.removeNotification)
		})

		r.Get("/ids/{category}", s.listIDs)

		r.Get("/{category}", s.listRecords)
		r.Delete("/{category}", s.clearCategory)
		r.Get("/{category}/{id}", s.getRecord)
		r.Delete("/{category}/{id}", s.deleteRecord)
	})

	s.srv = &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	return s
}

func (s *Server) Handler() http.Handler { return s.srv.Handler }

func (s *Server) Start() error {
	s.log.Info("http listening", zap.String("addr", s.srv.Addr))
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error { return s.srv.Shutdown(ctx) }

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func category(w http.ResponseWriter, r *http.Request) (model.Category, bool) {
	c, ok := model.ParseCategory(chi.URLParam(r, "category"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown category")
	}
	return c, ok
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	c, ok := category(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.d.Store.GetCategory(c))
}

func (s *Server) listIDs(w http.ResponseWriter, r *http.Request) {
	c, ok := category(w, r)
	if !ok {
		return
	}
	ids := s.d.Store.IDs(c)
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ids)
}

func (s *Server) getRecord(w http.ResponseWriter, r *http.Request) {
	c, ok := category(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	// cache first
	if rec, ok := s.d.Store.Get(c, id); ok {
		writeJSON(w, http.StatusOK, rec)
		return
	}

	// then the source
	if s.d.Source == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	rec, err := s.d.Source.Record(r.Context(), c, id)
	switch {
	case errors.Is(err, source.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
		return
	case err != nil:
		s.log.Warn("source lookup failed", zap.String("category", string(c)), zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.d.Store.SetRecord(c, id, rec)
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) deleteRecord(w http.ResponseWriter, r *http.Request) {
	c, ok := category(w, r)
	if !ok {
		return
	}
	s.d.Store.Delete(c, chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) clearCategory(w http.ResponseWriter, r *http.Request) {
	c, ok := category(w, r)
	if !ok {
		return
	}
	s.d.Store.Clear(c)
	w.WriteHeader(http.StatusNoContent)
}

type statusResponse struct {
	Loading map[model.Category]bool   `json:"loading"`
	Errors  map[model.Category]string `json:"errors"`
	Counts  map[model.Category]int    `json:"counts"`
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Loading: s.d.Store.LoadingAll(),
		Errors:  s.d.Store.Errors(),
		Counts:  make(map[model.Category]int),
	}
	for _, c := range model.AllCategories() {
		resp.Counts[c] = s.d.Store.Len(c)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) refreshAll(w http.ResponseWriter, r *http.Request) {
	if s.d.Loader == nil {
		writeError(w, http.StatusServiceUnavailable, "loader not configured")
		return
	}
	rep, err := s.d.Loader.Load(r.Context(), s.d.CustomerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make(map[string]string, len(rep))
	for name, err := range rep {
		if err != nil {
			out[name] = err.Error()
		} else {
			out[name] = "ok"
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) refreshCategory(w http.ResponseWriter, r *http.Request) {
	c, ok := category(w, r)
	if !ok {
		return
	}
	if s.d.Loader == nil {
		writeError(w, http.StatusServiceUnavailable, "loader not configured")
		return
	}
	if err := s.d.Loader.Refresh(r.Context(), s.d.CustomerID, c); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": s.d.Store.Len(c)})
}

type notificationsResponse struct {
	Items  []model.Notification `json:"items"`
	Unread int                  `json:"unread"`
}

func (s *Server) inbox(w http.ResponseWriter) (*notify.Inbox, bool) {
	if s.d.Inbox == nil {
		writeError(w, http.StatusServiceUnavailable, "notifications disabled")
		return nil, false
	}
	return s.d.Inbox, true
}

func (s *Server) listNotifications(w http.ResponseWriter, _ *http.Request) {
	b, ok := s.inbox(w)
	if !ok {
		return
	}
	items := b.List()
	if items == nil {
		items = []model.Notification{}
	}
	writeJSON(w, http.StatusOK, notificationsResponse{Items: items, Unread: b.Unread()})
}

func (s *Server) readNotification(w http.ResponseWriter, r *http.Request) {
	b, ok := s.inbox(w)
	if !ok {
		return
	}
	if !b.MarkRead(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) readAllNotifications(w http.ResponseWriter, _ *http.Request) {
	b, ok := s.inbox(w)
	if !ok {
		return
	}
	b.MarkAllRead()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) removeNotification(w http.ResponseWriter, r *http.Request) {
	b, ok := s.inbox(w)
	if !ok {
		return
	}
	if !b.Remove(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) clearNotifications(w http.ResponseWriter, _ *http.Request) {
	b, ok := s.inbox(w)
	if !ok {
		return
	}
	b.Clear()
	w.WriteHeader(http.StatusNoContent)
}
