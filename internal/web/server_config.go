package web

import (
	"fmt"
	"os"
	"strconv"
)

// Environment overrides for the simulator's viewer server. The renderer
// itself only listens when --listen is set.
const (
	EnvListenAddr = "SCANOUT_SIM_LISTEN"
	EnvDevMode    = "SCANOUT_DEV"
	EnvStaticDir  = "SCANOUT_SIM_UI"
)

// ServerConfig is where the status API and frame viewer listen.
type ServerConfig struct {
	ListenAddr string
	// DevMode lets a viewer served from another origin use the API.
	DevMode bool
	// StaticDir replaces the embedded viewer when set.
	StaticDir string
}

// ServerConfigFromEnv applies the SCANOUT_SIM_* overrides on top of
// fallbackAddr.
func ServerConfigFromEnv(fallbackAddr string) (ServerConfig, error) {
	cfg := ServerConfig{ListenAddr: fallbackAddr, StaticDir: os.Getenv(EnvStaticDir)}
	if addr := os.Getenv(EnvListenAddr); addr != "" {
		cfg.ListenAddr = addr
	}
	raw, ok := os.LookupEnv(EnvDevMode)
	if !ok || raw == "" {
		return cfg, nil
	}
	dev, err := strconv.ParseBool(raw)
	if err != nil {
		return ServerConfig{}, fmt.Errorf("%s: want true or false, got %q", EnvDevMode, raw)
	}
	cfg.DevMode = dev
	return cfg, nil
}
