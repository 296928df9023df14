package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/mediascout/internal/model"
	"github.com/sells-group/mediascout/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for search requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(ctx, env),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Periodic maintenance: prune idle throttle state and expired searches.
		go func() {
			ticker := time.NewTicker(time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					pruned := env.Throttler.Cleanup()
					retention := time.Duration(cfg.Cleanup.RetentionHours) * time.Hour
					n, err := env.Store.DeleteExpiredSearches(ctx, retention)
					if err != nil {
						zap.L().Warn("expired search sweep", zap.Error(err))
						continue
					}
					zap.L().Debug("maintenance sweep",
						zap.Int("throttle_domains_pruned", pruned),
						zap.Int("searches_deleted", n),
					)
				}
			}
		}()

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// newRouter wires the search API. jobCtx outlives individual requests so
// accepted searches keep running after the request returns.
func newRouter(jobCtx context.Context, env *appEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/throttle", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, env.Throttler.Snapshot())
	})

	r.Route("/searches", func(r chi.Router) {
		r.Post("/", createSearchHandler(jobCtx, env))
		r.Get("/", listSearchesHandler(env))
		r.Get("/{searchID}", getSearchHandler(env))
		r.Post("/{searchID}/cancel", cancelSearchHandler(env))
	})

	return r
}

func createSearchHandler(jobCtx context.Context, env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			UserID string                    `json:"user_id"`
			Config model.SearchConfiguration `json:"config"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		id, err := env.Orchestrator.Start(req.Context(), body.Config, body.UserID)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		go func() {
			if err := env.Orchestrator.Run(jobCtx, id); err != nil {
				zap.L().Error("search failed",
					zap.String("search_id", id),
					zap.Error(err),
				)
			}
		}()

		writeJSON(w, http.StatusAccepted, map[string]string{"search_id": id})
	}
}

func listSearchesHandler(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))
		offset, _ := strconv.Atoi(q.Get("offset"))

		jobs, err := env.Store.ListSearches(req.Context(), store.SearchFilter{
			Stage:  model.SearchStage(q.Get("stage")),
			UserID: q.Get("user_id"),
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"searches": jobs})
	}
}

func getSearchHandler(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "searchID")

		job, err := env.Orchestrator.Status(req.Context(), id)
		if err != nil {
			writeError(w, statusForError(err), err.Error())
			return
		}

		var contacts []model.ExtractedContact
		if job.Stage.Terminal() {
			contacts, err = env.Store.GetContacts(req.Context(), id)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"search":   job,
			"contacts": contacts,
		})
	}
}

func cancelSearchHandler(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "searchID")

		var body struct {
			Reason string `json:"reason"`
		}
		_ = json.NewDecoder(req.Body).Decode(&body)
		if body.Reason == "" {
			body.Reason = "cancelled via api"
		}

		if err := env.Orchestrator.Cancel(req.Context(), id, body.Reason); err != nil {
			writeError(w, statusForError(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
	}
}

func statusForError(err error) int {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "not found"):
		return http.StatusNotFound
	case strings.Contains(msg, "already"):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
