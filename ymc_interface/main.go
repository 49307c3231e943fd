package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ymc-dbw-core/bridge"
	"ymc-dbw-core/utils"
	"ymc-dbw-core/ymc"
)

func main() {
	var (
		cfgPath   = flag.String("config", "", "YAML config file (defaults are used when empty)")
		device    = flag.String("device", "", "CAN interface or serial device (overrides config)")
		transport = flag.String("transport", "", "socketcan|serial|loopback (overrides config)")
		listen    = flag.String("listen", ":9090", "WebSocket bridge address, empty to disable")
		logPath   = flag.String("logfile", "ymc_interface.log", "Log file path")
		logLevel  = flag.String("log", "info", "trace|debug|info|warn|error|critical")
		noKeys    = flag.Bool("no-keyboard", false, "Do not read mode keys from the terminal")
	)
	flag.Parse()

	log, err := utils.NewFileLogger(*logPath, utils.ParseLevel(*logLevel), true)
	if err != nil {
		_, _ = os.Stderr.WriteString("ERROR: cannot open " + *logPath + ": " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Close()

	cfg, err := loadConfig(*cfgPath, *device, *transport)
	if err != nil {
		log.Critical("Config: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *listen, !*noKeys, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Critical("Run failed: %v", err)
		os.Exit(1)
	}
}

func loadConfig(path, device, transport string) (ymc.Config, error) {
	cfg := ymc.DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = ymc.LoadConfig(path); err != nil {
			return ymc.Config{}, err
		}
	}
	if device != "" {
		cfg.Device = device
	}
	if transport != "" {
		cfg.Transport = transport
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, cfg ymc.Config, listen string, keyboard bool, log *utils.Logger) error {
	bus, err := openTransport(ctx, cfg, log)
	if err != nil {
		return err
	}

	var keys ymc.KeySource
	if keyboard {
		tk, err := ymc.OpenTerminalKeys(os.Stdin)
		if err != nil {
			log.Warn("Keyboard mode switching disabled: %v", err)
		} else {
			keys = tk
			log.Info("Keys: '%c' remote mode, '%c' auto mode", ymc.KeyRemote, ymc.KeyAuto)
		}
	}

	ws := bridge.NewServer(log)
	iface, err := ymc.New(cfg, bus, keys, ws, log)
	if err != nil {
		_ = bus.Close()
		if keys != nil {
			_ = keys.Close()
		}
		return err
	}
	defer iface.Close()
	ws.Attach(iface)

	var httpSrv *http.Server
	if listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/ws", ws)
		httpSrv = &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Info("WebSocket bridge listening on %s/ws", listen)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("WebSocket bridge: %v", err)
			}
		}()
	}

	err = iface.Run(ctx)

	ws.Close()
	if httpSrv != nil {
		shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutCtx)
	}
	return err
}
