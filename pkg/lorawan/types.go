package lorawan

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// EUI64 represents an 8-byte Extended Unique Identifier
type EUI64 [8]byte

// String returns hex string representation
func (e EUI64) String() string {
	return strings.ToUpper(hex.EncodeToString(e[:]))
}

// MarshalJSON implements json.Marshaler
func (e EUI64) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.String())
}

// ParseEUI64 parses a 16 character hex string
func ParseEUI64(s string) (EUI64, error) {
	var eui EUI64
	if err := decodeHex(eui[:], s); err != nil {
		return eui, fmt.Errorf("invalid EUI64: %w", err)
	}
	return eui, nil
}

// AES128Key represents a 128-bit AES key
type AES128Key [16]byte

// String returns hex string representation
func (k AES128Key) String() string {
	return strings.ToUpper(hex.EncodeToString(k[:]))
}

// ParseAES128Key parses a 32 character hex string
func ParseAES128Key(s string) (AES128Key, error) {
	var key AES128Key
	if err := decodeHex(key[:], s); err != nil {
		return key, fmt.Errorf("invalid AES128 key: %w", err)
	}
	return key, nil
}

func decodeHex(dst []byte, s string) error {
	if len(s) != len(dst)*2 {
		return fmt.Errorf("expected %d hex characters, got %d", len(dst)*2, len(s))
	}

	b, err := hex.DecodeString(s)
	if err != nil {
		return err
	}

	copy(dst, b)
	return nil
}

// MType represents the message type
type MType byte

const (
	JoinRequest MType = iota
	JoinAccept
	UnconfirmedDataUp
	UnconfirmedDataDown
	ConfirmedDataUp
	ConfirmedDataDown
	RFU
	Proprietary
)

// String returns the message type name used in lab logs
func (m MType) String() string {
	switch m {
	case JoinRequest:
		return "Join Request"
	case JoinAccept:
		return "Join Accept"
	case UnconfirmedDataUp:
		return "Unconfirmed Data Up"
	case UnconfirmedDataDown:
		return "Unconfirmed Data Down"
	case ConfirmedDataUp:
		return "Confirmed Data Up"
	case ConfirmedDataDown:
		return "Confirmed Data Down"
	case Proprietary:
		return "Proprietary"
	default:
		return "RFU"
	}
}
