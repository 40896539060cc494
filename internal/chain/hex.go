package chain

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// hexBytes is a byte slice carried as a 0x-prefixed hex string on the wire.
type hexBytes []byte

func (h hexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal("0x" + hex.EncodeToString(h))
}

func (h *hexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("hex value: %w", err)
	}
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("hex value: %w", err)
	}
	*h = b
	return nil
}

// callMsg is the eth_call transaction object.
type callMsg struct {
	To   string   `json:"to"`
	Data hexBytes `json:"data"`
}
