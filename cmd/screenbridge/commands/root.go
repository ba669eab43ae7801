package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/bryanchriswhite/ScreenBridge/internal/bridge"
	"github.com/bryanchriswhite/ScreenBridge/internal/config"
	"github.com/bryanchriswhite/ScreenBridge/internal/logger"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "screenbridge",
		Short: "ScreenBridge - screen capture bridge for foreign hosts",
		Long: `ScreenBridge captures the screen, a region of it, or a single window and
returns an encoded image. Hosts normally load it as a shared library through
the C ABI in include/screenbridge.h; this command exercises the same code
paths from a terminal.

Features:
  • Capability probe (OS version and capture backend)
  • Screen recording permission check with the OS prompt
  • Fullscreen, region and window capture
  • X11, xdg-desktop-portal and native backends
  • Local HTTP and WebSocket API`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// codeError ends the process with an exit status derived from a bridge code
type codeError struct {
	code bridge.Code
}

func (e *codeError) Error() string {
	return e.code.String()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/screenbridge/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("backend", "", "capture backend (auto, x11, portal, native)")
	rootCmd.PersistentFlags().Duration("timeout", 0, "capture timeout (e.g. 5s)")
}

// loadConfig reads the configuration and applies command line overrides
func loadConfig(cmd *cobra.Command) (*config.Manager, error) {
	configMgr, err := config.NewManager(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		level, _ := flags.GetString("log-level")
		if err := configMgr.SetLogLevel(level); err != nil {
			return nil, err
		}
	}
	if flags.Changed("backend") {
		backend, _ := flags.GetString("backend")
		if err := configMgr.Set("capture.backend", backend); err != nil {
			return nil, err
		}
	}
	if flags.Changed("timeout") {
		timeout, _ := flags.GetDuration("timeout")
		if err := configMgr.Set("capture.timeout", timeout); err != nil {
			return nil, err
		}
	}

	cfg := configMgr.Get()
	logger.Init(cfg.LogLevel, cfg.LogPretty)
	return configMgr, nil
}

// openBridge builds the platform bridge from the loaded configuration
func openBridge(cmd *cobra.Command) (*config.Manager, *bridge.Bridge, error) {
	configMgr, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	b, err := bridge.NewFromConfig(configMgr.Get())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize capture bridge: %w", err)
	}
	return configMgr, b, nil
}

// Execute runs the root command. Bridge failures exit with the code's
// magnitude (1 not available, 2 denied, 3 capture failed, 4 encoding failed).
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	var ce *codeError
	if errors.As(err, &ce) {
		os.Exit(-int(ce.code))
	}
	os.Exit(1)
}
