// Command protean runs the capability synthesis core: a one-shot turn mode
// for quick use and an HTTP introspection server for front ends.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	_ "github.com/protean-ai/protean/pkg/adapters/llm/fake"
	_ "github.com/protean-ai/protean/pkg/adapters/llm/gemini"
	_ "github.com/protean-ai/protean/pkg/adapters/llm/openai"
	"github.com/protean-ai/protean/pkg/capability"
	"github.com/protean-ai/protean/pkg/errmodel"
	"github.com/protean-ai/protean/pkg/middleware"
	"github.com/protean-ai/protean/pkg/otel"
	"github.com/protean-ai/protean/pkg/subagent"
	"github.com/protean-ai/protean/pkg/transcript"
)

var (
	version = "dev"
	commit  = ""
	date    = ""
)

func main() {
	var (
		showVersion bool
		addr        string
		dataDir     string
		provider    string
		dbURL       string
		trace       bool
		once        string
		session     string
	)
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.StringVar(&addr, "addr", getEnv("PROTEAN_ADDR", ":8080"), "http listen address")
	flag.StringVar(&dataDir, "data", getEnv("PROTEAN_DATA", "./data"), "root directory for registries")
	flag.StringVar(&provider, "model", getEnv("PROTEAN_MODEL", "openai"), "host model, provider or provider/model")
	flag.StringVar(&dbURL, "db", getEnv("PROTEAN_DB", ""), "transcript database URL (sqlite:... or postgres://...); empty disables persistence")
	flag.BoolVar(&trace, "trace-stdout", getEnvBool("PROTEAN_TRACE_STDOUT"), "export traces to stdout")
	flag.StringVar(&once, "once", "", "run a single turn with this input and exit")
	flag.StringVar(&session, "session", getEnv("PROTEAN_SESSION", "default"), "session id for -once")
	flag.Parse()

	if showVersion {
		fmt.Printf("protean %s (commit=%s, date=%s)\n", version, commit, date)
		return
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := otel.Init(ctx, otel.Config{
		ServiceName: "protean", ServiceVersion: version, UseStdout: trace,
	})
	if err != nil {
		fatal("otel init", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	global, err := capability.OpenRegistry(filepath.Join(dataDir, "tools"))
	if err != nil {
		fatal("open global registry", err)
	}
	agents, err := subagent.OpenRegistry(filepath.Join(dataDir, "agents"))
	if err != nil {
		fatal("open agent registry", err)
	}
	model, err := subagent.ProviderFactory(ctx, provider, 0)
	if err != nil {
		fatal("build host model", err)
	}

	var store *transcript.Store
	if dbURL != "" {
		store, err = transcript.Open(ctx, dbURL)
		if err != nil {
			fatal("open transcript store", err)
		}
		defer store.Close()
	}

	mgr := middleware.NewManager(middleware.Config{
		Global:  global,
		Agents:  agents,
		Factory: subagent.ProviderFactory,
		Model:   model,
		Emitter: func(ev middleware.StepEvent) {
			logger.Debug("step", "kind", ev.Kind, "session", ev.Session, "seq", ev.Seq)
		},
	}, 0)

	if once != "" {
		runOnce(ctx, mgr, store, session, once)
		return
	}

	srv := &http.Server{Addr: addr, Handler: newHandler(mgr, store)}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()
	logger.Info("listening", "addr", addr, "data", dataDir)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fatal("server", err)
	}
}

func runOnce(ctx context.Context, mgr *middleware.Manager, store *transcript.Store, session, input string) {
	s := mgr.Session(session)
	out, err := s.Invoke(ctx, middleware.TurnInput{Text: input})
	if err != nil {
		fatal("turn", err)
	}
	persistTurn(ctx, store, session, input, out)
	fmt.Println(out.Text)
}

func persistTurn(ctx context.Context, store *transcript.Store, session, input string, out *middleware.TurnOutput) {
	if store == nil {
		return
	}
	n, err := store.NextTurn(ctx, session)
	if err == nil {
		_, err = store.Append(ctx, transcript.Record{
			SessionID: session, Turn: n, Input: input, Output: out.Text, Steps: out.Steps,
		})
	}
	if err != nil {
		slog.Warn("transcript persist failed", "session", session, "error", err)
	}
}

// newHandler builds the introspection and turn API.
func newHandler(mgr *middleware.Manager, store *transcript.Store) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /v1/capabilities", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, mgr.ListCapabilities())
	})
	mux.HandleFunc("GET /v1/agents", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, mgr.ListAgents())
	})
	mux.HandleFunc("GET /v1/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, mgr.UsageStats())
	})
	mux.HandleFunc("GET /v1/export", func(w http.ResponseWriter, r *http.Request) {
		b, err := mgr.ExportNamespace(r.URL.Query().Get("target"))
		if err != nil {
			errmodel.WriteHTTP(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(b)
	})
	mux.HandleFunc("POST /v1/turn", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Session string `json:"session"`
			Text    string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
			errmodel.WriteHTTP(w, r, errmodel.Validation("bad_request",
				"body must be {session, text} with non-empty text", nil))
			return
		}
		s := mgr.Session(req.Session)
		out, err := s.Invoke(r.Context(), middleware.TurnInput{Text: req.Text})
		if err != nil {
			errmodel.WriteHTTP(w, r, err)
			return
		}
		persistTurn(r.Context(), store, s.ID(), req.Text, out)
		writeJSON(w, map[string]any{
			"session": s.ID(),
			"turn":    out.TurnID,
			"text":    out.Text,
			"steps":   out.Steps,
			"created": out.Created,
		})
	})
	mux.HandleFunc("GET /v1/transcript", func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			errmodel.WriteHTTP(w, r, errmodel.NotFound("transcript store not configured", nil))
			return
		}
		recs, err := store.List(r.Context(), r.URL.Query().Get("session"))
		if err != nil {
			errmodel.WriteHTTP(w, r, err)
			return
		}
		writeJSON(w, recs)
	})
	return otelhttp.NewHandler(mux, "protean.http")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string) bool {
	b, _ := strconv.ParseBool(os.Getenv(key))
	return b
}
