package universe

import "nepse-simulator/internal/models"

// defaultInstruments is a representative NEPSE-style listing.
var defaultInstruments = []models.Instrument{
	{Symbol: "NABIL", Name: "Nabil Bank Limited", Sector: "Commercial Bank", ListedShares: 270_000_000, PaidUpValue: 100, BaseVolume: 500_000, InitialPrice: 1010, EPS: eps(33.5)},
	{Symbol: "NICA", Name: "NIC Asia Bank Limited", Sector: "Commercial Bank", ListedShares: 150_000_000, PaidUpValue: 100, BaseVolume: 450_000, InitialPrice: 780, EPS: eps(18.2)},
	{Symbol: "EBL", Name: "Everest Bank Limited", Sector: "Commercial Bank", ListedShares: 110_000_000, PaidUpValue: 100, BaseVolume: 300_000, InitialPrice: 640, EPS: eps(38.9)},
	{Symbol: "SBL", Name: "Siddhartha Bank Limited", Sector: "Commercial Bank", ListedShares: 140_000_000, PaidUpValue: 100, BaseVolume: 350_000, InitialPrice: 310, EPS: eps(14.1)},
	{Symbol: "ADBL", Name: "Agricultural Development Bank Limited", Sector: "Commercial Bank", ListedShares: 130_000_000, PaidUpValue: 100, BaseVolume: 300_000, InitialPrice: 290, EPS: eps(17.6)},
	{Symbol: "NLIC", Name: "Nepal Life Insurance Co. Ltd.", Sector: "Life Insurance", ListedShares: 60_000_000, PaidUpValue: 100, BaseVolume: 200_000, InitialPrice: 815, EPS: eps(11.8)},
	{Symbol: "LICN", Name: "Life Insurance Corporation (Nepal) Limited", Sector: "Life Insurance", ListedShares: 40_000_000, PaidUpValue: 100, BaseVolume: 150_000, InitialPrice: 1320, EPS: eps(29.4)},
	{Symbol: "SICL", Name: "Shikhar Insurance Company Limited", Sector: "Non-Life Insurance", ListedShares: 30_000_000, PaidUpValue: 100, BaseVolume: 120_000, InitialPrice: 690, EPS: eps(21.7)},
	{Symbol: "NRIC", Name: "Nepal Reinsurance Company Limited", Sector: "Non-Life Insurance", ListedShares: 90_000_000, PaidUpValue: 100, BaseVolume: 250_000, InitialPrice: 720, EPS: eps(8.9)},
	{Symbol: "GFCL", Name: "Goodwill Finance Limited", Sector: "Finance", ListedShares: 10_000_000, PaidUpValue: 100, BaseVolume: 80_000, InitialPrice: 540},
	{Symbol: "UPPER", Name: "Upper Tamakoshi Hydropower Limited", Sector: "Energy", ListedShares: 105_000_000, PaidUpValue: 100, BaseVolume: 600_000, InitialPrice: 245, EPS: eps(-4.2)},
	{Symbol: "CHCL", Name: "Chilime Hydropower Company Limited", Sector: "Energy", ListedShares: 90_000_000, PaidUpValue: 100, BaseVolume: 400_000, InitialPrice: 520, EPS: eps(16.3)},
	{Symbol: "NTC", Name: "Nepal Doorsanchar Company Limited", Sector: "Telecommunications", ListedShares: 150_000_000, PaidUpValue: 100, BaseVolume: 100_000, InitialPrice: 880, EPS: eps(44.6)},
	{Symbol: "SHL", Name: "Soaltee Hotel Limited", Sector: "Hospitality", ListedShares: 100_000_000, PaidUpValue: 10, BaseVolume: 150_000, InitialPrice: 430, EPS: eps(6.1)},
	{Symbol: "UNL", Name: "Unilever Nepal Limited", Sector: "Manufacturing", ListedShares: 920_000, PaidUpValue: 100, BaseVolume: 5_000, InitialPrice: 36500, EPS: eps(1412)},
	{Symbol: "HIDCL", Name: "Hydroelectricity Investment and Development Company", Sector: "Investment Fund", ListedShares: 230_000_000, PaidUpValue: 100, BaseVolume: 700_000, InitialPrice: 190},
}

func eps(v float64) *float64 { return &v }

// Default returns the built-in universe.
func Default() *Universe {
	u, err := New(defaultInstruments)
	if err != nil {
		panic("universe: invalid default instruments: " + err.Error())
	}
	return u
}
