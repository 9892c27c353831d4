package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/danmuck/bittyctl/internal/config"
	"github.com/danmuck/bittyctl/internal/controller"
	"github.com/danmuck/bittyctl/internal/logging"
)

const envControlToken = "BITTYCTL_CONTROL_TOKEN"

type options struct {
	configPath  string
	devicePath  string
	ports       []string
	noValidate  bool
	controlAddr string
	noConsole   bool
	writeKind   string
	output      string
	force       bool
}

func parseFlags(args []string) (options, []string, error) {
	var opts options
	fs := pflag.NewFlagSet("bittyctl", pflag.ContinueOnError)
	// Negative joint angles in a command must not parse as flags.
	fs.SetInterspersed(false)
	fs.StringVarP(&opts.configPath, "config", "c", "", "service config TOML")
	fs.StringVarP(&opts.devicePath, "device", "d", "", "device config TOML (overrides device_config)")
	fs.StringSliceVarP(&opts.ports, "port", "p", nil, "serial port to use instead of enumerating (repeatable)")
	fs.BoolVar(&opts.noValidate, "no-validate", false, "admit opened ports without probing")
	fs.StringVar(&opts.controlAddr, "control", "", "HTTP control surface listen address")
	fs.BoolVar(&opts.noConsole, "no-console", false, "disable the interactive console")
	fs.StringVar(&opts.writeKind, "write-config", "", "write a config template: device|service")
	fs.StringVarP(&opts.output, "output", "o", "", "template output path")
	fs.BoolVar(&opts.force, "force", false, "overwrite an existing template")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: bittyctl [flags] [command ...]\n\n")
		fmt.Fprintf(os.Stderr, "With a command, discovers links, sends it once, and exits.\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return options{}, nil, err
	}
	return opts, fs.Args(), nil
}

func resolve(opts options) (controller.ServiceConfig, config.DeviceConfig, error) {
	app := defaultAppConfig()
	if opts.configPath != "" {
		loaded, err := loadAppConfig(opts.configPath)
		if err != nil {
			return controller.ServiceConfig{}, config.DeviceConfig{}, err
		}
		app = loaded
		if app.DevicePath != "" && !filepath.IsAbs(app.DevicePath) {
			app.DevicePath = filepath.Join(filepath.Dir(opts.configPath), app.DevicePath)
		}
	}
	if opts.devicePath != "" {
		app.DevicePath = opts.devicePath
	}
	if len(opts.ports) > 0 {
		app.Service.Ports = opts.ports
	}
	if opts.noValidate {
		app.Service.Validate = false
	}
	if opts.controlAddr != "" {
		app.Service.ControlAddr = opts.controlAddr
	}
	if token := strings.TrimSpace(os.Getenv(envControlToken)); token != "" {
		app.Service.ControlToken = token
	}
	if opts.noConsole {
		app.Service.Console = false
	}

	device := config.DefaultDeviceConfig()
	if app.DevicePath != "" {
		loaded, err := config.LoadDeviceConfig(app.DevicePath)
		if err != nil {
			return controller.ServiceConfig{}, config.DeviceConfig{}, err
		}
		device = loaded
	}
	return app.Service, device, nil
}

func run(args []string) error {
	opts, rest, err := parseFlags(args)
	if err != nil {
		return err
	}
	if opts.writeKind != "" {
		target := opts.output
		if target == "" {
			target = opts.writeKind + ".toml"
		}
		if err := config.WriteTemplate(target, opts.writeKind, opts.force); err != nil {
			return err
		}
		fmt.Printf("wrote %s config template to %s\n", opts.writeKind, target)
		return nil
	}

	logging.ConfigureRuntime()
	svcCfg, device, err := resolve(opts)
	if err != nil {
		return err
	}

	if len(rest) > 0 {
		svcCfg.ReplugOnEmpty = false
		svcCfg.Console = false
		svc := controller.NewSerialService(svcCfg, device)
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return svc.RunOnce(ctx, strings.Join(rest, " "))
	}
	return controller.NewSerialService(svcCfg, device).Run()
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "bittyctl: %v\n", err)
		os.Exit(1)
	}
}
