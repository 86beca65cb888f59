package generator

import (
	"time"
)

// EventScope is the reach of a simulated news event.
type EventScope string

const (
	ScopeMarket  EventScope = "market"
	ScopeSector  EventScope = "sector"
	ScopeCompany EventScope = "company"
)

// Event is a recorded market, sector or company event.
type Event struct {
	Date   time.Time  `json:"date"`
	Scope  EventScope `json:"scope"`
	Target string     `json:"target,omitempty"`
	Name   string     `json:"name"`
	Impact float64    `json:"impact"`
}

const maxEvents = 256

var marketEvents = []string{
	"Central Bank Changes Interest Rates",
	"Government Fiscal Policy Announcement",
	"Major Economic Data Release",
	"International Market Influence",
	"Foreign Investment Policy Change",
	"Currency Value Fluctuation",
}

var sectorEvents = map[string][]string{
	"Commercial Bank":    {"Banking Regulation Change", "Interest Rate Policy Shift", "Merger Announcement", "Credit Growth Report"},
	"Life Insurance":     {"Insurance Regulation Update", "Claim Settlement Rate Change", "New Insurance Product Launch", "Reinsurance Agreement"},
	"Non-Life Insurance": {"Property Insurance Demand Change", "Natural Disaster Impact", "Regulatory Capital Requirements", "Insurance Premium Adjustment"},
	"Finance":            {"Microfinance Regulation", "Loan Portfolio Quality Report", "Credit Rating Change", "Liquidity Requirements"},
	"Energy":             {"Energy Policy Update", "Hydropower Project Announcement", "Electricity Demand Forecast", "Transmission Infrastructure Investment"},
	"Aviation":           {"Fuel Price Changes", "Airport Expansion Project", "Tourism Trend Impact", "Route Expansion Announcement"},
	"Agriculture":        {"Monsoon Season Forecast", "Crop Production Report", "Fertilizer Subsidy Change", "Agricultural Export Policy"},
	"Construction":       {"Infrastructure Development Plan", "Building Material Price Change", "Construction Permit Process Update", "Real Estate Market Report"},
	"Manufacturing":      {"Raw Material Price Fluctuation", "Export Incentives Change", "Labor Law Amendment", "Factory Output Report"},
	"Telecommunications": {"Spectrum Allocation Decision", "Internet Penetration Report", "Telecom Tariff Regulation", "Network Infrastructure Investment"},
	"Hospitality":        {"Tourism Season Forecast", "Hotel Occupancy Rates", "International Tourism Policy", "Travel Advisory Change"},
	"Conglomerate":       {"Corporate Restructuring", "Diversification Strategy", "Holdings Adjustment", "Group Performance Report"},
	"Investment Fund":    {"Investment Strategy Update", "Fund Performance Report", "Asset Allocation Change", "Regulatory Compliance Update"},
}

var defaultSectorEvents = []string{
	"Regulatory Change",
	"Industry Report Release",
	"Market Trend Shift",
	"Corporate Announcement",
}

var companyEvents = []string{
	"Quarterly Earnings Report",
	"Management Change",
	"New Product Launch",
	"Regulatory Action",
	"Legal Issue",
	"Dividend Announcement",
	"Merger or Acquisition Talks",
	"Insider Trading News",
	"Major Contract Gain/Loss",
	"Analyst Rating Change",
}

func eventsForSector(sector string) []string {
	if names, ok := sectorEvents[sector]; ok {
		return names
	}
	return defaultSectorEvents
}
