package wire

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// HexBytes is a byte string carried on the wire as lowercase hex.
type HexBytes []byte

// MarshalJSON encodes b as a hex JSON string.
func (b HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(b))
}

// UnmarshalJSON decodes a hex JSON string.
func (b *HexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	out, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("hex body: %w", err)
	}
	*b = out
	return nil
}
