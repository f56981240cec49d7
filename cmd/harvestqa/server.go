package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cestlavie/harvestqa/internal/api"
	"github.com/cestlavie/harvestqa/internal/reload"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the question-answering HTTP API (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		watch, _ := cmd.Flags().GetBool("watch")
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(cmd.Context(), watch, withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running harvestqa server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show harvestqa system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().Bool("watch", false, "reload the dataset when the file changes")
	serveCmd.Flags().Bool("mcp", false, "also serve MCP over stdio")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "harvestqa.pid")
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

func runServer(ctx context.Context, watch, withMCP bool) error {
	fmt.Fprintln(os.Stderr, versionString())
	logger := zap.L().Named("serve")

	// Refuse to start twice on the same port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}

	a, err := newApp(ctx, cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	if cfg.Server.Token == "" {
		logger.Warn("HARVESTQA_SERVER_TOKEN is not set; API routes are unauthenticated")
	}

	handler := api.NewHandler(api.Deps{
		Session:      a.session,
		Evaluator:    a.harness,
		Results:      a.results,
		Interactions: a.store,
		Token:        cfg.Server.Token,
		TopK:         cfg.Retrieval.TopK,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)

	if watch {
		w := reload.NewWatcher(cfg.DatasetPath(), a.session, cfg.Reload.Debounce)
		g.Go(func() error {
			return w.Run(gctx)
		})
	}

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Session:      a.session,
			Interactions: a.store,
			Matcher:      a.matcher,
			TopK:         cfg.Retrieval.TopK,
			Version:      version,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		g.Go(func() error {
			if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("MCP stdio server error", zap.Error(err))
			}
			return nil
		})
		logger.Info("MCP server started (stdio transport)")
	}

	g.Go(func() error {
		logger.Info("listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func stopServer() error {
	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		return fmt.Errorf("harvestqa is not running (no PID file): %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("could not find process %d: %w", pid, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		removePIDFile(pidPath)
		return fmt.Errorf("could not stop harvestqa (PID %d): %w", pid, err)
	}

	printSuccess("Sent stop signal to harvestqa (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	c := newAPIClient(cfg)
	c.httpClient.Timeout = 2 * time.Second

	var health struct {
		Status string `json:"status"`
		Rows   int    `json:"rows"`
	}
	resp, err := c.get(ctx, "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else if err := decodeJSON(resp, &health); err != nil {
		printStatus("Server", "error (%v)", err)
	} else {
		printStatus("Server", "running on port %d, %d rows loaded", cfg.Server.Port, health.Rows)
	}

	ollamaResp, err := c.httpClient.Get(cfg.Ollama.BaseURL + "/api/version")
	if err != nil {
		printStatus("Ollama", "not running")
	} else {
		ollamaResp.Body.Close()
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	}

	printStatus("Chat backend", "%s (%s)", cfg.Backend.Chat, chatModel(cfg))
	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)
	printStatus("Dataset", "%s", cfg.DatasetPath())
	printStatus("Result log", "%s", resultLogLabel())
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func resultLogLabel() string {
	if cfg.Eval.LogBackend == "sqlite" {
		return "sqlite (eval_results table)"
	}
	return cfg.ResultLogPath()
}
