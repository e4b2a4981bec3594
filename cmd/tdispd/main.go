package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/tdispd/internal/config"
	"github.com/danmuck/tdispd/internal/logging"
	"github.com/danmuck/tdispd/internal/service"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "cmd/tdispd/config.toml", "daemon config path")
	initKind := flag.String("init-config", "", "write a config template and exit: daemon|device")
	output := flag.String("output", "", "output path for -init-config")
	force := flag.Bool("force", false, "overwrite an existing file with -init-config")
	validate := flag.Bool("validate", false, "validate the daemon and device configs and exit")
	flag.Parse()

	logging.ConfigureRuntime()

	if *initKind != "" {
		if err := writeTemplate(*initKind, *output, *force); err != nil {
			fail(err)
		}
		return
	}

	cfg, err := loadServiceConfig(*configPath)
	if err != nil {
		fail(err)
	}
	device, err := config.LoadDeviceConfig(cfg.DeviceConfigPath)
	if err != nil {
		fail(err)
	}
	if *validate {
		log.Info().
			Str("config", *configPath).
			Str("device", device.Device).
			Int("interfaces", len(device.Interfaces)).
			Msg("config valid")
		return
	}

	svc, err := service.NewService(cfg, device, service.HostOptions{})
	if err != nil {
		fail(err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := svc.Run(ctx); err != nil {
		fail(err)
	}
}

func writeTemplate(kind, output string, force bool) error {
	target := output
	if target == "" {
		switch kind {
		case "daemon":
			target = "cmd/tdispd/config.toml"
		case "device":
			target = "cmd/tdispd/device.toml"
		default:
			return fmt.Errorf("unknown config kind: %s", kind)
		}
	}
	if err := config.WriteTemplate(target, kind, force); err != nil {
		return err
	}
	log.Info().Str("kind", kind).Str("path", target).Msg("wrote config template")
	return nil
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "tdispd: %v\n", err)
	os.Exit(1)
}
