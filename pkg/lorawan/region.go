package lorawan

// RegionConfiguration represents region-specific configuration
type RegionConfiguration struct {
	Name                string
	DataRates           []DataRate
	MaxPayloadSizePerDR map[int]int
}

// DataRate represents a data rate configuration
type DataRate struct {
	SpreadFactor int
	Bandwidth    int
}

// GetRegionConfiguration returns configuration for a region
func GetRegionConfiguration(region string) *RegionConfiguration {
	switch region {
	case "EU868":
		return &EU868Configuration
	case "US915":
		return &US915Configuration
	case "CN470", "CN470_510":
		return &CN470Configuration
	default:
		return &EU868Configuration
	}
}

// EU868Configuration for EU 868MHz band
var EU868Configuration = RegionConfiguration{
	Name: "EU868",
	DataRates: []DataRate{
		{SpreadFactor: 12, Bandwidth: 125}, // DR0
		{SpreadFactor: 11, Bandwidth: 125}, // DR1
		{SpreadFactor: 10, Bandwidth: 125}, // DR2
		{SpreadFactor: 9, Bandwidth: 125},  // DR3
		{SpreadFactor: 8, Bandwidth: 125},  // DR4
		{SpreadFactor: 7, Bandwidth: 125},  // DR5
		{SpreadFactor: 7, Bandwidth: 250},  // DR6
	},
	MaxPayloadSizePerDR: map[int]int{
		0: 51,
		1: 51,
		2: 51,
		3: 115,
		4: 242,
		5: 242,
		6: 242,
	},
}

// US915Configuration for US 915MHz band
var US915Configuration = RegionConfiguration{
	Name: "US915",
	DataRates: []DataRate{
		{SpreadFactor: 10, Bandwidth: 125}, // DR0
		{SpreadFactor: 9, Bandwidth: 125},  // DR1
		{SpreadFactor: 8, Bandwidth: 125},  // DR2
		{SpreadFactor: 7, Bandwidth: 125},  // DR3
		{SpreadFactor: 8, Bandwidth: 500},  // DR4
	},
	MaxPayloadSizePerDR: map[int]int{
		0: 11,
		1: 53,
		2: 125,
		3: 242,
		4: 242,
	},
}

// CN470Configuration for China 470-510MHz band
var CN470Configuration = RegionConfiguration{
	Name: "CN470",
	DataRates: []DataRate{
		{SpreadFactor: 12, Bandwidth: 125}, // DR0
		{SpreadFactor: 11, Bandwidth: 125}, // DR1
		{SpreadFactor: 10, Bandwidth: 125}, // DR2
		{SpreadFactor: 9, Bandwidth: 125},  // DR3
		{SpreadFactor: 8, Bandwidth: 125},  // DR4
		{SpreadFactor: 7, Bandwidth: 125},  // DR5
	},
	MaxPayloadSizePerDR: map[int]int{
		0: 51, 1: 51, 2: 51, 3: 115, 4: 222, 5: 222,
	},
}

// DataRateIndex returns the DR index matching the given SF/BW pair, or -1
// when the region has no such data rate (e.g. SF12 at 500 kHz).
func (r *RegionConfiguration) DataRateIndex(sf, bwKHz int) int {
	for i, dr := range r.DataRates {
		if dr.SpreadFactor == sf && dr.Bandwidth == bwKHz {
			return i
		}
	}
	return -1
}

// MaxPayloadSize returns the maximum application payload for a SF/BW pair.
// Zero means the pair is not part of the region's data rate plan.
func (r *RegionConfiguration) MaxPayloadSize(sf, bwKHz int) int {
	dr := r.DataRateIndex(sf, bwKHz)
	if dr < 0 {
		return 0
	}
	return r.MaxPayloadSizePerDR[dr]
}
