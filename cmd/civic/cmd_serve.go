package main

import (
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"civicbot/internal/config"
	"civicbot/internal/logging"
	"civicbot/internal/server"
)

var (
	serveAddr  string
	serveWatch bool
)

// serveCmd starts the HTTP API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Starts the HTTP API:

  POST   /api/conversations                 new conversation id
  POST   /api/conversations/{id}/messages   {"message": "..."} -> DisplayMessage
  POST   /api/conversations/{id}/more       more events -> DisplayMessage
  DELETE /api/conversations/{id}            forget shown events
  POST   /api/extract                       {"text": "...", "question": "..."} -> DisplayMessage
  POST   /api/calendar                      {"events": [...]} -> text/calendar
  GET    /metrics, /healthz

Edits to documents and city.locality in the config file are picked up without
a restart. Conversations idle for session.idle_ttl are dropped from memory.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default: server.addr from config)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", true, "Reload documents and city.locality when the config file changes")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logging.Get(logging.CategoryBoot)
	llmErr := cfg.Validate()
	withLLM := llmErr == nil
	if !withLLM {
		log.Warn("no usable LLM configuration, conversation endpoints disabled: %v", llmErr)
	}

	st, err := buildStack(cmd.Context(), cfg, stackOptions{llm: withLLM, store: true, metrics: prometheus.DefaultRegisterer})
	if err != nil {
		return err
	}
	defer st.Close()

	loc, _ := cfg.Location()
	srv, err := server.New(server.Options{
		Controller:   st.controller,
		Extractor:    st.extractor,
		Sanitizer:    st.sanitizer,
		Documents:    cfg.Documents,
		CalendarName: cfg.City.Name,
		Location:     loc,
	})
	if err != nil {
		return err
	}

	addr := serveAddr
	if addr == "" {
		addr = cfg.Server.Addr
	}

	g, ctx := errgroup.WithContext(cmd.Context())

	if serveWatch {
		if _, err := os.Stat(configPath); err == nil {
			w, err := config.NewWatcher(configPath, func(next *config.Config) {
				applyConfigReload(st, srv, next)
			})
			if err != nil {
				return err
			}
			if err := w.Start(ctx); err != nil {
				return err
			}
			defer w.Stop()
		}
	}

	if st.controller != nil {
		g.Go(func() error {
			return st.controller.RunJanitor(ctx, cfg.GetSessionIdleTTL(), 0)
		})
	}
	g.Go(func() error {
		return srv.ListenAndServe(ctx, addr, cfg.GetReadTimeout(), cfg.GetWriteTimeout())
	})
	return g.Wait()
}

// applyConfigReload pushes the settings that can change at runtime into a
// running stack. Everything else in next needs a restart.
func applyConfigReload(st *stack, srv *server.Server, next *config.Config) {
	log := logging.Get(logging.CategoryBoot)
	st.sanitizer.SetLocality(next.City.Locality)
	if st.controller != nil {
		st.controller.SetDocuments(next.Documents)
		st.controller.SetLocality(next.City.Locality)
	}
	if srv != nil {
		srv.SetDocuments(next.Documents)
	}
	log.Info("applied config: locality=%q documents=%d", next.City.Locality, len(next.Documents))
}
