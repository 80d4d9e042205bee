package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caffeineduck/starbridge/executor"
	"github.com/caffeineduck/starbridge/marshal"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP server for code execution",
		Long: `Start an HTTP server in front of one runtime. State in __main__ is shared
by all requests.

Endpoints:
  POST   /eval     Evaluate {"code":"...","mode":"eval|exec"}
  POST   /call     Call a global {"function":"f","args":[...],"kwargs":{...}}
  GET    /info     Runtime version, search path and live references
  GET    /health   Health check`,
		RunE: runServe,
	}
	cmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	cmd.Flags().StringP("file", "F", "", "Run this file before serving")
	return cmd
}

type evalRequest struct {
	Code string `json:"code"`
	Mode string `json:"mode,omitempty"`
}

type callRequest struct {
	Function string         `json:"function"`
	Args     []any          `json:"args,omitempty"`
	Kwargs   map[string]any `json:"kwargs,omitempty"`
}

type resultResponse struct {
	Result     any    `json:"result"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
	Kind       string `json:"kind,omitempty"`
}

type infoResponse struct {
	Version  string   `json:"version"`
	Path     []string `json:"path"`
	LiveRefs int      `json:"live_refs"`
	Pending  int      `json:"pending"`
}

func runServe(cmd *cobra.Command, args []string) error {
	port, _ := cmd.Flags().GetInt("port")
	file, _ := cmd.Flags().GetString("file")

	exec, err := buildExecutor(cmd)
	if err != nil {
		return err
	}
	defer exec.Close()

	if file != "" {
		if err := runFile(exec, file); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: newServeMux(exec),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	fmt.Fprintf(os.Stderr, "starbridge server listening on %s\n", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newServeMux(exec *executor.Executor) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /eval", func(w http.ResponseWriter, r *http.Request) {
		var req evalRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Code == "" {
			http.Error(w, "code required", http.StatusBadRequest)
			return
		}

		start := time.Now()
		var v any
		var err error
		switch req.Mode {
		case "", "eval":
			v, err = exec.Eval(req.Code, "<request>")
		case "exec":
			v, err = exec.EvalAsFile(req.Code, "<request>")
		default:
			http.Error(w, fmt.Sprintf("unknown mode %q", req.Mode), http.StatusBadRequest)
			return
		}
		writeResult(w, v, err, time.Since(start))
	})

	mux.HandleFunc("POST /call", func(w http.ResponseWriter, r *http.Request) {
		var req callRequest
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Function == "" {
			http.Error(w, "function required", http.StatusBadRequest)
			return
		}

		start := time.Now()
		v, err := callGlobal(exec, req)
		writeResult(w, v, err, time.Since(start))
	})

	mux.HandleFunc("GET /info", func(w http.ResponseWriter, r *http.Request) {
		info := exec.Instance()
		writeJSON(w, infoResponse{
			Version:  info.Version,
			Path:     info.Path,
			LiveRefs: info.LiveRefs,
			Pending:  info.Pending,
		})
	})

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return mux
}

func callGlobal(exec *executor.Executor, req callRequest) (any, error) {
	g, err := exec.Global()
	if err != nil {
		return nil, err
	}
	main := g.(*marshal.Handle)
	defer main.Close()

	fn, err := main.Attr(req.Function)
	if err != nil {
		return nil, err
	}
	h, ok := fn.(*marshal.Handle)
	if !ok {
		return nil, fmt.Errorf("%s is not callable", req.Function)
	}
	defer h.Close()
	if !h.IsCallable() {
		return nil, fmt.Errorf("%s is not callable", req.Function)
	}

	args := make([]any, len(req.Args))
	for i, a := range req.Args {
		args[i] = fromJSON(a)
	}
	kwargs := make(map[string]any, len(req.Kwargs))
	for k, a := range req.Kwargs {
		kwargs[k] = fromJSON(a)
	}
	return h.Call(args, kwargs)
}

// fromJSON turns decoder numbers into int64 where they fit.
func fromJSON(v any) any {
	switch v := v.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		f, _ := v.Float64()
		return f
	case []any:
		out := make([]any, len(v))
		for i, x := range v {
			out[i] = fromJSON(x)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, x := range v {
			out[k] = fromJSON(x)
		}
		return out
	}
	return v
}

func writeResult(w http.ResponseWriter, v any, err error, elapsed time.Duration) {
	resp := resultResponse{DurationMs: elapsed.Milliseconds()}
	if err != nil {
		resp.Error = err.Error()
		var fe *marshal.ForeignError
		if errors.As(err, &fe) {
			resp.Kind = fe.Kind
			resp.Error = fe.Text
			fe.Close()
		}
	} else {
		resp.Result = display(v)
	}
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
