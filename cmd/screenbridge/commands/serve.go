package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryanchriswhite/ScreenBridge/internal/api"
	"github.com/bryanchriswhite/ScreenBridge/internal/capture"
	"github.com/bryanchriswhite/ScreenBridge/internal/logger"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local capture API",
	Long: `Start the ScreenBridge HTTP server on the loopback interface.

The server exposes the capability probe, window listing and capture endpoints
over HTTP, a WebSocket stream that answers capture requests in order, and an
MJPEG live preview at /api/preview that can be opened in a browser tab.
Requests from non-local browser origins are rejected.`,
	Example: `  # Start server on default port (8765)
  screenbridge serve

  # Start server on custom port
  screenbridge serve --port 9090

  # Start with debug logging
  screenbridge serve --log-level debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "server port (default is 8765)")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("serve")

	configMgr, b, err := openBridge(cmd)
	if err != nil {
		return err
	}
	defer b.Close()

	if cmd.Flags().Changed("port") {
		port, _ := cmd.Flags().GetInt("port")
		if err := configMgr.SetPort(port); err != nil {
			return err
		}
	}
	cfg := configMgr.Get()

	report := b.Report()
	log.Info().
		Str("config", configMgr.GetConfigPath()).
		Str("backend", report.Backend).
		Bool("available", report.Available).
		Str("reason", report.Reason).
		Msg("Capture bridge initialized")

	// Window listing shares the X11 capturer's connection.
	var windows api.WindowLister
	if x11, ok := b.Capturer().(*capture.X11Capturer); ok {
		if backend := x11.Windows(); backend != nil {
			windows = backend
		}
	}

	server := api.NewServer(b, configMgr, windows)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.ServerPort)
	}()

	fmt.Fprintf(os.Stderr, "ScreenBridge API listening on http://127.0.0.1:%d/api\n", cfg.ServerPort)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errCh:
		return err
	case <-sigChan:
		log.Info().Msg("Shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
