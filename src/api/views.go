package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"reportserver/src/api/handlers"
)

type Server struct {
	Router  *chi.Mux
	Handler *handlers.Handler
}

func NewServer(handler *handlers.Handler) *Server {
	server := &Server{
		Router:  chi.NewRouter(),
		Handler: handler,
	}
	server.InitRoutes()
	return server
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) InitRoutes() {
	s.Router.Use(middleware.RequestID)
	s.Router.Use(middleware.Recoverer)

	s.Router.Get("/alive", handlers.Healthcheck)
	s.Router.Get("/api/data-sources", s.Handler.ListDataSources)

	s.Router.Route("/api/report-jobs", func(r chi.Router) {
		r.Get("/", s.Handler.ListReportJobs)
		r.Get("/{id}", s.Handler.GetReportJob)
		r.Post("/", s.Handler.CreateReportJob)
		r.Put("/{id}", s.Handler.UpdateReportJob)
		r.Post("/{id}/deactivate", s.Handler.DeactivateReportJob)
		r.Post("/{id}/reactivate", s.Handler.ReactivateReportJob)
	})
}

func NewHTTPServer(server *Server, port string) *http.Server {
	httpServer := &http.Server{
		Addr:         ":" + port,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		Handler:      server,
	}
	return httpServer
}
