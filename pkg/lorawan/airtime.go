package lorawan

import (
	"errors"
	"fmt"
	"math"
)

// DefaultPayloadBytes is the application payload size assumed by the lab.
const DefaultPayloadBytes = 20

const preambleSymbols = 8 + 4.25

// ErrInvalidRadioConfig is returned for parameters outside the LoRa ranges.
var ErrInvalidRadioConfig = errors.New("invalid radio config")

// CodingRate is the LoRa forward error correction rate.
type CodingRate string

const (
	CodingRate45 CodingRate = "4/5"
	CodingRate46 CodingRate = "4/6"
	CodingRate47 CodingRate = "4/7"
	CodingRate48 CodingRate = "4/8"
)

// CR returns the 1..4 value used in the symbol formulas, 0 if unknown.
func (c CodingRate) CR() int {
	switch c {
	case CodingRate45:
		return 1
	case CodingRate46:
		return 2
	case CodingRate47:
		return 3
	case CodingRate48:
		return 4
	default:
		return 0
	}
}

// Bandwidths lists the supported channel widths in kHz.
var Bandwidths = []int{125, 250, 500}

// RadioConfig holds the modulation parameters of the virtual device.
type RadioConfig struct {
	SpreadingFactor int        `json:"spreadingFactor" yaml:"spreading_factor"`
	BandwidthKHz    int        `json:"bandwidthKHz" yaml:"bandwidth_khz"`
	CodingRate      CodingRate `json:"codingRate" yaml:"coding_rate"`
}

// DefaultRadioConfig is SF7 / 125 kHz / 4/5.
func DefaultRadioConfig() RadioConfig {
	return RadioConfig{SpreadingFactor: 7, BandwidthKHz: 125, CodingRate: CodingRate45}
}

// Validate checks the configuration against the supported ranges.
func (c RadioConfig) Validate() error {
	if c.SpreadingFactor < 7 || c.SpreadingFactor > 12 {
		return fmt.Errorf("%w: spreading factor %d not in 7..12", ErrInvalidRadioConfig, c.SpreadingFactor)
	}
	if !validBandwidth(c.BandwidthKHz) {
		return fmt.Errorf("%w: bandwidth %d kHz not one of 125/250/500", ErrInvalidRadioConfig, c.BandwidthKHz)
	}
	if c.CodingRate.CR() == 0 {
		return fmt.Errorf("%w: coding rate %q", ErrInvalidRadioConfig, c.CodingRate)
	}
	return nil
}

// String formats the config the way gateways label it, e.g. SF7BW125 4/5.
func (c RadioConfig) String() string {
	return fmt.Sprintf("SF%dBW%d %s", c.SpreadingFactor, c.BandwidthKHz, c.CodingRate)
}

// AirtimeMs returns the time on air for payloadBytes with this config.
func (c RadioConfig) AirtimeMs(payloadBytes int) float64 {
	return airtimeMs(c.SpreadingFactor, c.BandwidthKHz, c.CodingRate.CR(), payloadBytes)
}

// DataRateBps returns the effective bit rate with this config.
func (c RadioConfig) DataRateBps() int {
	return dataRateBps(c.SpreadingFactor, c.BandwidthKHz, c.CodingRate.CR())
}

// SymbolDurationMs is 2^SF / BW.
func SymbolDurationMs(sf, bwKHz int) float64 {
	return math.Exp2(float64(sf)) / float64(bwKHz)
}

// AirtimeMs returns the time on air in milliseconds at coding rate 4/5.
func AirtimeMs(sf, bwKHz, payloadBytes int) float64 {
	return airtimeMs(sf, bwKHz, 1, payloadBytes)
}

// DataRateBps returns the bit rate at coding rate 4/5 (SF7/125 kHz gives 5468).
func DataRateBps(sf, bwKHz int) int {
	return dataRateBps(sf, bwKHz, 1)
}

func airtimeMs(sf, bwKHz, cr, payloadBytes int) float64 {
	tSym := SymbolDurationMs(sf, bwKHz)
	preamble := preambleSymbols * tSym

	n := math.Ceil(float64(8*payloadBytes-4*sf+28)/float64(4*sf)) * float64(cr+4)
	payloadSymbols := 8 + math.Max(0, n)

	return preamble + payloadSymbols*tSym
}

func dataRateBps(sf, bwKHz, cr int) int {
	raw := float64(sf) * float64(bwKHz) * 1000 / math.Exp2(float64(sf))
	return int(math.Floor(raw * 4 / float64(4+cr)))
}

func validBandwidth(bw int) bool {
	for _, b := range Bandwidths {
		if b == bw {
			return true
		}
	}
	return false
}
