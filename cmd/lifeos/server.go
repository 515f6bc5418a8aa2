package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/lifeos/internal/api"
	"github.com/kalambet/lifeos/internal/config"
	"github.com/kalambet/lifeos/internal/llm"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the lifeos server (foreground)",
	Long: `Start the HTTP and WebSocket API and the scheduled memory sweep.
With --mcp the MCP server is also served on stdin/stdout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running lifeos server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show lifeos system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		return showStatus(cmd.Context(), user)
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP over stdio")
	statusCmd.Flags().String("user", "", "also count the memories of this user")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "lifeos.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "lifeos version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	if cfg.Server.APIToken == "" {
		slog.Warn("LIFEOS_API_TOKEN is not set; the API accepts unauthenticated requests on loopback")
	}

	// Refuse to start twice on the same port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("lifeos is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("lifeos is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}
	}()

	// A missing model only degrades replies to templates, so it does not
	// stop the server.
	if o, ok := rt.generator.(*llm.Ollama); ok {
		if err := o.EnsureReady(ctx, os.Stderr); err != nil {
			slog.Warn("text generator not ready, replies fall back to templates", "error", err)
		}
	}

	ctrl := rt.controller
	handler := api.NewHandler(api.Deps{
		Chat:     ctrl,
		Memory:   ctrl.Memory(),
		Profiles: ctrl.Profiles(),
		History:  ctrl.History(),
		Sweeper:  rt.worker,
		Metrics:  rt.metrics,
		Ping:     rt.ping,
		Token:    cfg.Server.APIToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	if cfg.Server.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConnections)
	}
	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Chat:     ctrl,
			Memory:   ctrl.Memory(),
			Profiles: ctrl.Profiles(),
			History:  ctrl.History(),
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "lifeos listening on %s\n", addr)
		return serveHTTP(gctx, ln, handler)
	})
	g.Go(func() error {
		rt.worker.Run(gctx)
		return nil
	})
	return g.Wait()
}

// serveHTTP serves handler on ln until ctx is done, then drains in-flight
// requests for up to shutdownTimeout. Request contexts are not tied to ctx,
// so a turn that is already running gets to finish and persist.
func serveHTTP(ctx context.Context, ln net.Listener, handler http.Handler) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("server error: %w", err)
			return
		}
		errc <- nil
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	fmt.Fprintln(diag, "shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return <-errc
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("lifeos is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop lifeos (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to lifeos (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context, user string) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	client := newAPIClientFor(cfg)
	client.httpClient.Timeout = 2 * time.Second

	running := false
	if resp, err := client.get(ctx, "/health"); err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	switch cfg.LLM.Provider {
	case config.ProviderNone:
		printStatus("Generator", "disabled (template replies)")
	case config.ProviderOllama:
		o := llm.NewOllama(cfg.LLM.BaseURL, cfg.LLM.Model)
		if o.IsRunning(ctx) {
			printStatus("Generator", "ollama at %s, model %s", cfg.LLM.BaseURL, cfg.LLM.Model)
		} else {
			printStatus("Generator", "ollama not running at %s", cfg.LLM.BaseURL)
		}
	default:
		printStatus("Generator", "%s, model %s", cfg.LLM.Provider, cfg.LLM.Model)
	}

	printStatus("Storage", "%s", cfg.Storage.Backend)
	if cfg.Storage.Backend == config.BackendSQLite {
		printStatus("Data dir", "%s", cfg.Storage.DataDir)
	}
	printStatus("Sweep", "%s", cfg.Memory.SweepSchedule)

	if running && user != "" {
		resp, err := client.get(ctx, "/v1/users/"+user+"/memories")
		if err == nil {
			var entries []struct{}
			if decodeJSON(resp, &entries) == nil {
				printStatus("Memories", "%d for %s", len(entries), user)
			}
		}
	}
	return nil
}
