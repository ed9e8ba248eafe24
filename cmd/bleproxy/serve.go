package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/srg/bleproxy/internal/adapter/bleadapter"
	"github.com/srg/bleproxy/internal/config"
	"github.com/srg/bleproxy/internal/proxy"
	"github.com/srg/bleproxy/internal/scanner"
	"github.com/srg/bleproxy/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Bluetooth LE proxy daemon",
	Long: `Starts the bleproxy daemon: it opens the local BLE radio, listens for
ESPHome native API control connections, and bridges advertisement scanning,
GATT connections, and subscriptions between the two until interrupted.`,
	RunE: runServe,
}

var serveAllowList, serveBlockList []string

func init() {
	serveCmd.Flags().String("host", "", "Listen address (overrides config file)")
	serveCmd.Flags().Int("port", 0, "Listen port (overrides config file)")
	serveCmd.Flags().String("name", "", "Device name reported to clients (overrides config file)")
	serveCmd.Flags().String("friendly-name", "", "Human-friendly device name reported to clients (overrides config file)")
	serveCmd.Flags().String("password", "", "Control protocol password (overrides config file)")
	serveCmd.Flags().Int("max-connections", 0, "Maximum concurrent GATT connections (overrides config file)")
	serveCmd.Flags().Int("advertisement-batch-size", 0, "Advertisements per BleRawAdsResp batch (overrides config file)")
	serveCmd.Flags().Bool("active-connections", true, "Allow GATT connect/pair/read/write (overrides config file)")
	serveCmd.Flags().Bool("no-active-connections", false, "Advertisement-forwarding only; refuse GATT connections (overrides config file)")
	serveCmd.Flags().String("mac-address", "", "Local radio MAC address reported to clients (overrides config file; auto-detected from the adapter when unset)")
	serveCmd.Flags().String("cache-dir", "", "Directory for the persisted service/bonding cache (overrides config file)")
	serveCmd.Flags().StringSliceVar(&serveAllowList, "allow", nil, "Only forward advertisements from these addresses")
	serveCmd.Flags().StringSliceVar(&serveBlockList, "block", nil, "Never forward advertisements from these addresses")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadFile(cfgPath)
	if err != nil {
		return fmt.Errorf("%w: loading config: %v", errBadConfig, err)
	}
	applyServeFlagOverrides(cmd, cfg)

	logLevel := cfg.LogLevel
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		logLevel = v
	}
	logFile := cfg.LogFile
	if v, _ := cmd.Flags().GetString("log-file"); v != "" {
		logFile = v
	}
	logger, err := configureLogger(logLevel, logFile)
	if err != nil {
		return fmt.Errorf("%w: %v", errBadConfig, err)
	}
	cmd.SilenceUsage = true

	filter, err := buildFilter(serveAllowList, serveBlockList)
	if err != nil {
		return fmt.Errorf("%w: %v", errBadConfig, err)
	}

	ad, err := bleadapter.New(logger)
	if err != nil {
		return fmt.Errorf("opening BLE radio: %w", err)
	}

	var localAddr uint64
	if cfg.BluetoothMacAddress != "" {
		localAddr, err = parseMACAddress(cfg.BluetoothMacAddress)
		if err != nil {
			return fmt.Errorf("%w: --mac-address/bluetooth_mac_address %q: %v", errBadConfig, cfg.BluetoothMacAddress, err)
		}
	}

	coordinator := proxy.New(proxy.Config{
		Adapter:                  ad,
		ServerName:               cfg.Name,
		FriendlyName:             cfg.FriendlyName,
		Password:                 cfg.Password,
		LocalAddress:             localAddr,
		DisableActiveConnections: !cfg.ActiveConnections,
		MaxConnections:           cfg.MaxConnections,
		ConnectTimeout:           cfg.ConnectTimeout,
		DisconnectTimeout:        cfg.DisconnectTimeout,
		GattOpTimeout:            cfg.GattOpTimeout,
		BatchMax:                 cfg.AdvertisementBatchSize,
		FlushInterval:            cfg.FlushInterval,
		Filter:                   filter,
		CacheDir:                 cfg.CacheDir,
		Logger:                   logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	coordinator.Run(ctx)

	srv := server.New(cfg.Host, cfg.Port, cfg.ShutdownGrace, coordinator.SessionFactory(), logger)
	logger.WithField("host", cfg.Host).WithField("port", cfg.Port).Info("bleproxy listening")
	if err := srv.Serve(ctx); err != nil && !errors.Is(err, server.ErrShutdownGraceExpired) {
		return err
	}
	return nil
}

// applyServeFlagOverrides layers any explicitly set serve flags on top of
// cfg, which already carries the YAML file and struct-tag defaults.
func applyServeFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	if v, _ := cmd.Flags().GetString("host"); v != "" {
		cfg.Host = v
	}
	if v, _ := cmd.Flags().GetInt("port"); v != 0 {
		cfg.Port = v
	}
	if v, _ := cmd.Flags().GetString("name"); v != "" {
		cfg.Name = v
	}
	if v, _ := cmd.Flags().GetString("friendly-name"); v != "" {
		cfg.FriendlyName = v
	}
	if v, _ := cmd.Flags().GetString("password"); v != "" {
		cfg.Password = v
	}
	if v, _ := cmd.Flags().GetInt("max-connections"); v != 0 {
		cfg.MaxConnections = v
	}
	if v, _ := cmd.Flags().GetInt("advertisement-batch-size"); v != 0 {
		cfg.AdvertisementBatchSize = v
	}
	// --no-active-connections wins over --active-connections if both were
	// somehow passed; neither being passed leaves cfg's file/default value.
	if cmd.Flags().Changed("no-active-connections") {
		cfg.ActiveConnections = false
	} else if cmd.Flags().Changed("active-connections") {
		v, _ := cmd.Flags().GetBool("active-connections")
		cfg.ActiveConnections = v
	}
	if v, _ := cmd.Flags().GetString("mac-address"); v != "" {
		cfg.BluetoothMacAddress = v
	}
	if v, _ := cmd.Flags().GetString("cache-dir"); v != "" {
		cfg.CacheDir = v
	}
}

func buildFilter(allow, block []string) (scanner.Filter, error) {
	f := scanner.Filter{AllowList: make(map[uint64]struct{}), BlockList: make(map[uint64]struct{})}
	for _, s := range allow {
		addr, err := parseMACAddress(s)
		if err != nil {
			return f, fmt.Errorf("--allow %q: %w", s, err)
		}
		f.AllowList[addr] = struct{}{}
	}
	for _, s := range block {
		addr, err := parseMACAddress(s)
		if err != nil {
			return f, fmt.Errorf("--block %q: %w", s, err)
		}
		f.BlockList[addr] = struct{}{}
	}
	return f, nil
}

// parseMACAddress turns a colon-separated MAC string (e.g. "AA:BB:CC:DD:EE:FF")
// into the uint64 address form used throughout the wire protocol and adapter
// interface.
func parseMACAddress(s string) (uint64, error) {
	var b [6]byte
	n, err := fmt.Sscanf(s, "%02x:%02x:%02x:%02x:%02x:%02x", &b[0], &b[1], &b[2], &b[3], &b[4], &b[5])
	if err != nil || n != 6 {
		return 0, fmt.Errorf("not a MAC address")
	}
	var addr uint64
	for _, v := range b {
		addr = addr<<8 | uint64(v)
	}
	return addr, nil
}
