package mockadapter

import "fmt"

func errUnknownPeripheral(address uint64) error {
	return fmt.Errorf("mockadapter: no peripheral scripted for address %012x", address)
}
