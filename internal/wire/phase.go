package wire

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// PakeBody is the plaintext body of the "pake" phase.
type PakeBody struct {
	PakeV1 string `json:"pake_v1"`
}

// VersionBody is the plaintext sealed into the "version" phase.
type VersionBody struct {
	AppVersions map[string]any `json:"app_versions"`
}

// EncodePake wraps a SPAKE2 public value for the "pake" phase.
func EncodePake(msg []byte) ([]byte, error) {
	return json.Marshal(PakeBody{PakeV1: hex.EncodeToString(msg)})
}

// DecodePake extracts the SPAKE2 public value from a "pake" phase body.
func DecodePake(body []byte) ([]byte, error) {
	var p PakeBody
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: pake body: %v", ErrMalformed, err)
	}
	if p.PakeV1 == "" {
		return nil, fmt.Errorf("pake body: %w %q", ErrMissingField, "pake_v1")
	}
	msg, err := hex.DecodeString(p.PakeV1)
	if err != nil {
		return nil, fmt.Errorf("%w: pake body: %v", ErrMalformed, err)
	}
	return msg, nil
}

// EncodeVersion renders the key-confirmation payload. A nil map is sent as
// an empty object.
func EncodeVersion(versions map[string]any) ([]byte, error) {
	if versions == nil {
		versions = map[string]any{}
	}
	return json.Marshal(VersionBody{AppVersions: versions})
}

// DecodeVersion parses an opened "version" phase.
func DecodeVersion(plaintext []byte) (map[string]any, error) {
	var v VersionBody
	if err := json.Unmarshal(plaintext, &v); err != nil {
		return nil, fmt.Errorf("%w: version body: %v", ErrMalformed, err)
	}
	if v.AppVersions == nil {
		v.AppVersions = map[string]any{}
	}
	return v.AppVersions, nil
}
