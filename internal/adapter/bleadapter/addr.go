package bleadapter

import "fmt"

// formatAddress renders the low 48 bits of addr as a colon-separated MAC
// string, the form ble.NewAddr expects.
func formatAddress(addr uint64) string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
		byte(addr>>40), byte(addr>>32), byte(addr>>24), byte(addr>>16), byte(addr>>8), byte(addr))
}
