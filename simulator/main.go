//go:build linux

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/rook-computer/scanout/internal/config"
	"github.com/rook-computer/scanout/internal/logging"
	"github.com/rook-computer/scanout/internal/web"
)

func main() {
	defaults, err := web.ServerConfigFromEnv(":8080")
	if err != nil {
		fmt.Println("server config error:", err)
		os.Exit(2)
	}

	fs := pflag.NewFlagSet("scanout-sim", pflag.ExitOnError)
	config.Flags(fs)
	simListen := fs.String("sim-listen", defaults.ListenAddr, "http listen address; also configurable via "+web.EnvListenAddr)
	devMode := fs.Bool("dev", defaults.DevMode, "enable dev mode; also configurable via "+web.EnvDevMode)
	staticDir := fs.String("static-dir", defaults.StaticDir, "serve the viewer from this directory instead of the embedded one; also configurable via "+web.EnvStaticDir)
	scenario := fs.String("scenario", ScenarioConnected, "display scenario: connected | no-output | busy | flaky-flip")
	width := fs.Int("width", 1280, "simulated output width")
	height := fs.Int("height", 720, "simulated output height")
	cfgFile := fs.String("config", "", "config file for the renderer settings")
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(viper.New(), *cfgFile, fs)
	if err != nil {
		fmt.Println("config error:", err)
		os.Exit(2)
	}
	if !fs.Changed("fps") && cfg.FPS == 0 {
		cfg.FPS = 30
	}
	logging.Init(cfg.LogLevel, true, os.Stderr)
	logger := logging.Logger

	processCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	control := NewSimControl(processCtx, *cfg, *width, *height, *scenario, &logger)
	if err := control.ApplyScenario(*scenario); err != nil {
		fmt.Println("scenario init error:", err)
		os.Exit(2)
	}
	defer control.Close()

	server := web.NewHTTPServer(web.ServerConfig{ListenAddr: *simListen, DevMode: *devMode, StaticDir: *staticDir})
	server.Logger = logging.Component(&logger, "web")
	mux := web.NewMux(server.StaticDir, web.APIV1Config{
		Handlers: web.APIV1Handlers{StopFunc: control.Stop},
		Deps:     control.Deps(),
	})
	registerSimEndpoints(mux, control)
	server.Handler = mux

	if err := server.Start(processCtx); err != nil {
		fmt.Println("server start error:", err)
		os.Exit(1)
	}

	fmt.Println("scanout simulator listening on", server.ListenAddr())
	fmt.Println("Scenario:", control.Scenario())
	fmt.Printf("Output: %dx%d@60\n", *width, *height)
	fmt.Println("Viewer: http://" + displayAddr(server.ListenAddr()) + "/")

	<-processCtx.Done()
	_ = server.Stop()
}

func displayAddr(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "127.0.0.1" + addr
	}
	if len(addr) > 5 && addr[:5] == "[::]:" {
		return "127.0.0.1:" + addr[5:]
	}
	return addr
}
