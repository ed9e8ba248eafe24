package bleadapter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/srg/bleproxy/internal/knownuuid"
)

// parseUUID converts a go-ble UUID string (16-bit short form as 4 hex
// digits, or 128-bit as 32 hex digits without dashes) into a uuid.UUID.
func parseUUID(s string) (uuid.UUID, error) {
	s = strings.ToLower(strings.ReplaceAll(s, "-", ""))
	switch len(s) {
	case 4:
		v, err := strconv.ParseUint(s, 16, 16)
		if err != nil {
			return uuid.UUID{}, fmt.Errorf("bleadapter: malformed short-form uuid %q: %w", s, err)
		}
		return knownuuid.ExpandShortForm(uint16(v)), nil
	case 32:
		dashed := fmt.Sprintf("%s-%s-%s-%s-%s", s[0:8], s[8:12], s[12:16], s[16:20], s[20:32])
		id, err := uuid.Parse(dashed)
		if err != nil {
			return uuid.UUID{}, fmt.Errorf("bleadapter: malformed uuid %q: %w", s, err)
		}
		return id, nil
	default:
		return uuid.UUID{}, fmt.Errorf("bleadapter: unexpected uuid string length %d in %q", len(s), s)
	}
}
