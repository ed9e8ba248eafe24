package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/bleproxy/internal/cache"
	"github.com/srg/bleproxy/internal/config"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List peripherals known to the on-disk cache",
	Long: `Lists every peripheral the persisted cache (§6.4) currently knows about:
its address, how many services were cached, how long ago they were
discovered, whether the entry is still fresh or has aged past expiry, and
whether a bonding record exists. This reads the cache directory directly —
it does not require bleproxy serve to be running.`,
	RunE: runDevices,
}

var devicesFormat string

func init() {
	devicesCmd.Flags().StringVarP(&devicesFormat, "format", "f", "table", "Output format (table, json)")
	devicesCmd.Flags().String("cache-dir", "", "Directory for the persisted service/bonding cache (overrides config file)")
}

// deviceStatus is one row of the devices listing.
type deviceStatus struct {
	Address  string `json:"address"`
	Services int    `json:"services"`
	Age      string `json:"age"`
	Expired  bool   `json:"expired"`
	Bonded   bool   `json:"bonded"`
}

func runDevices(cmd *cobra.Command, _ []string) error {
	if devicesFormat != "table" && devicesFormat != "json" {
		return fmt.Errorf("%w: invalid format %q: must be table or json", errBadConfig, devicesFormat)
	}
	cmd.SilenceUsage = true

	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadFile(cfgPath)
	if err != nil {
		return fmt.Errorf("%w: loading config: %v", errBadConfig, err)
	}
	if v, _ := cmd.Flags().GetString("cache-dir"); v != "" {
		cfg.CacheDir = v
	}
	if cfg.CacheDir == "" {
		return fmt.Errorf("%w: no cache directory configured (set cache_dir or pass --cache-dir)", errBadConfig)
	}

	statuses, err := collectDeviceStatuses(cfg.CacheDir)
	if err != nil {
		return err
	}

	if devicesFormat == "json" {
		return displayDevicesJSON(os.Stdout, statuses)
	}
	return displayDevicesTable(os.Stdout, statuses)
}

// collectDeviceStatuses walks dir's service-tree entries (one per
// peripheral) and cross-references the bonds subdirectory, reusing the
// same Store a running daemon would read from.
func collectDeviceStatuses(dir string) ([]deviceStatus, error) {
	store := cache.New(dir, cache.DefaultExpiry)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading cache directory: %w", err)
	}

	var statuses []deviceStatus
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		address, err := addressFromFilename(entry.Name())
		if err != nil {
			continue
		}

		raw, ok, err := store.LoadServices(address)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}
		expired := !ok
		if !ok {
			// LoadServices returns ok=false for an expired entry too;
			// re-read the raw file to report age/expiry rather than
			// silently omitting the device.
			raw, err = loadExpiredEntry(filepath.Join(dir, entry.Name()))
			if err != nil {
				continue
			}
		}

		_, bonded, err := store.LoadBond(address)
		if err != nil {
			return nil, fmt.Errorf("reading bond for %s: %w", entry.Name(), err)
		}

		statuses = append(statuses, deviceStatus{
			Address:  formatMACAddress(address),
			Services: len(raw.Services),
			Age:      time.Since(raw.CreatedAt).Truncate(time.Second).String(),
			Expired:  expired,
			Bonded:   bonded,
		})
	}

	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Address < statuses[j].Address })
	return statuses, nil
}

func addressFromFilename(name string) (uint64, error) {
	hex := strings.TrimSuffix(name, ".json")
	return strconv.ParseUint(hex, 16, 64)
}

func loadExpiredEntry(path string) (cache.ServiceEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return cache.ServiceEntry{}, err
	}
	var entry cache.ServiceEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return cache.ServiceEntry{}, err
	}
	return entry, nil
}

func formatMACAddress(addr uint64) string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X",
		byte(addr>>40), byte(addr>>32), byte(addr>>24), byte(addr>>16), byte(addr>>8), byte(addr))
}

func displayDevicesTable(out io.Writer, statuses []deviceStatus) error {
	if len(statuses) == 0 {
		fmt.Fprintln(out, "No cached devices")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tSERVICES\tAGE\tSTATUS\tBONDED")
	fmt.Fprintln(w, strings.Repeat("-", 60))

	fresh := color.New(color.FgGreen)
	stale := color.New(color.FgYellow)
	yes := color.New(color.FgCyan)

	for _, s := range statuses {
		status := fresh.Sprint("fresh")
		if s.Expired {
			status = stale.Sprint("expired")
		}
		bonded := "no"
		if s.Bonded {
			bonded = yes.Sprint("yes")
		}
		fmt.Fprintf(w, "%s\t%d\t%s ago\t%s\t%s\n", s.Address, s.Services, s.Age, status, bonded)
	}

	return w.Flush()
}

func displayDevicesJSON(out io.Writer, statuses []deviceStatus) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(statuses)
}
