package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chaz8081/ltprint/internal/ble"
	"github.com/chaz8081/ltprint/internal/ble/protocol"
	"github.com/chaz8081/ltprint/internal/config"
	"github.com/chaz8081/ltprint/internal/label"
	"github.com/chaz8081/ltprint/internal/printer"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/ltprint/config.yaml)")
	initConfig := flag.Bool("init-config", false, "write the default config file and exit")
	scan := flag.Bool("scan", false, "list LetraTag printers in range and exit")
	dryRun := flag.Bool("dry-run", false, "encode the label and dump the BLE writes without printing")
	timeout := flag.Duration("timeout", 30*time.Second, "give up if the print has not finished after this long")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] image\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		if path == "" {
			log.Printf("Config already exists at %s", config.DefaultConfigPath())
			return
		}
		log.Printf("Wrote default config to %s", path)
		return
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	slog.SetLogLoggerLevel(config.ParseLogLevel(cfg.LogLevel))

	if *scan {
		runScan(cfg)
		return
	}

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	printBanner(cfg, flag.Arg(0))

	img, err := label.Load(flag.Arg(0))
	if err != nil {
		log.Fatalf("Failed to load label image: %v", err)
	}
	raster, err := label.FromImage(img, label.Options{
		Threshold: cfg.Label.Threshold,
		Invert:    cfg.Label.Invert,
	})
	if err != nil {
		log.Fatalf("Failed to convert label image: %v", err)
	}
	log.Printf("Label is %d lines", raster.Lines())

	if *dryRun {
		if err := dumpWrites(raster); err != nil {
			log.Fatalf("Failed to encode label: %v", err)
		}
		return
	}

	// Signal handling: Ctrl+C abandons the print and releases the printer.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	if err := runPrint(ctx, cfg, raster); err != nil {
		log.Fatalf("ERROR: %v", err)
	}
	log.Println("Label printed")
}

func runPrint(ctx context.Context, cfg *config.Config, raster protocol.Raster) error {
	opts := printer.DefaultOptions()
	opts.ScanTimeout = cfg.ScanTimeout
	opts.ConnectTimeout = cfg.ConnectTimeout
	opts.Hooks = printer.Hooks{
		OnStateChanged: func(s printer.State) {
			switch s {
			case printer.Scanning:
				log.Println("Looking for a LetraTag...")
			case printer.Connecting:
				log.Println("Connecting...")
			case printer.SendingData:
				log.Println("Sending label...")
			}
		},
		OnPrintDone: func() {
			log.Println("Label sent, waiting for the printer...")
		},
	}

	ctrl := printer.New(ble.NewTransport(ble.NewTinygoAdapter()), opts)
	defer ctrl.Close()

	if err := ctrl.Print(raster); err != nil {
		return err
	}
	err := ctrl.Wait(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("print abandoned in state %s: %w", ctrl.State(), err)
	}
	return err
}

func runScan(cfg *config.Config) {
	log.Printf("Scanning for %s...", cfg.ScanTimeout)
	devices, err := ble.ScanForDevices(ble.NewTinygoAdapter(), cfg.ScanTimeout, printer.DeviceNamePrefix)
	if err != nil {
		log.Fatalf("Scan failed: %v", err)
	}
	if len(devices) == 0 {
		log.Println("No LetraTag printers found")
		os.Exit(1)
	}
	for _, d := range devices {
		fmt.Printf("%-20s %s  RSSI %d\n", d.Name, d.Address, d.RSSI)
	}
}

// dumpWrites prints every characteristic write the print would make.
func dumpWrites(raster protocol.Raster) error {
	header, body, err := protocol.Encode(raster)
	if err != nil {
		return err
	}
	fmt.Printf("header  %x\n", header)
	for i, chunk := range protocol.Chunk(body) {
		fmt.Printf("chunk %d (%d bytes, seq %02x)\n  %x\n", i, len(chunk), chunk[0], chunk)
	}
	return nil
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	// No config file, use defaults
	log.Println("No config file found, using defaults")
	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config, image string) {
	fmt.Println("=== ltprint ===")
	fmt.Printf("  Image:    %s\n", image)
	fmt.Printf("  Scan:     %s\n", cfg.ScanTimeout)
	fmt.Printf("  Connect:  %s\n", cfg.ConnectTimeout)
	fmt.Printf("  Label:    threshold %d, invert %v\n", cfg.Label.Threshold, cfg.Label.Invert)
	fmt.Printf("  Log:      %s\n", cfg.LogLevel)
	fmt.Println("===============")
}
