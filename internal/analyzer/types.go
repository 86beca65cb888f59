package analyzer

// Mover is one instrument's change between two consecutive trading days.
type Mover struct {
	Symbol    string  `json:"symbol"`
	Sector    string  `json:"sector"`
	Close     float64 `json:"close"`
	PrevClose float64 `json:"prev_close"`
	ChangePct float64 `json:"change_pct"`
	Volume    int64   `json:"volume"`
	Circuit   string  `json:"circuit"`
}

// SectorStats aggregates movers in one sector.
type SectorStats struct {
	Sector       string  `json:"sector"`
	AvgChangePct float64 `json:"avg_change_pct"`
	Instruments  int     `json:"instruments"`
	Advancing    int     `json:"advancing"`
	Declining    int     `json:"declining"`
	Unchanged    int     `json:"unchanged"`
	TotalVolume  int64   `json:"total_volume"`
}

// Breadth counts advancing, declining and unchanged instruments.
type Breadth struct {
	Date      string `json:"date"`
	Advancing int    `json:"advancing"`
	Declining int    `json:"declining"`
	Unchanged int    `json:"unchanged"`
}

// ADRatio is advancing over declining; with no decliners it is the advancing count.
func (b Breadth) ADRatio() float64 {
	if b.Declining == 0 {
		return float64(b.Advancing)
	}
	return float64(b.Advancing) / float64(b.Declining)
}

// Correlation is a symmetric matrix of daily-return correlations.
type Correlation struct {
	Symbols      []string    `json:"symbols"`
	Values       [][]float64 `json:"values"`
	Observations int         `json:"observations"`
}

// Get returns the correlation of two symbols in the matrix.
func (c Correlation) Get(a, b string) (float64, bool) {
	i, j := -1, -1
	for k, s := range c.Symbols {
		if s == a {
			i = k
		}
		if s == b {
			j = k
		}
	}
	if i < 0 || j < 0 {
		return 0, false
	}
	return c.Values[i][j], true
}

// Summary is the market overview for one trading date.
type Summary struct {
	Date            string  `json:"date"`
	Breadth         Breadth `json:"breadth"`
	ADRatio         float64 `json:"advance_decline_ratio"`
	MarketReturnPct float64 `json:"market_return_pct"`
	TotalVolume     int64   `json:"total_volume"`
	Overbought      int     `json:"rsi_overbought"`
	Oversold        int     `json:"rsi_oversold"`
	BestSector      string  `json:"best_sector"`
	WorstSector     string  `json:"worst_sector"`
	UpperCircuits   int     `json:"upper_circuits"`
	LowerCircuits   int     `json:"lower_circuits"`
	Halted          int     `json:"halted"`
	VolumeSpikes    int     `json:"volume_spikes"`
	TopGainers      []Mover `json:"top_gainers"`
	TopLosers       []Mover `json:"top_losers"`
}

// PriceRange describes one instrument over a window of trading days.
type PriceRange struct {
	Symbol    string  `json:"symbol"`
	From      string  `json:"from"`
	To        string  `json:"to"`
	Days      int     `json:"days"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	ChangePct float64 `json:"change_pct"`
	AvgVolume float64 `json:"avg_volume"`
}

// Technicals is the latest indicator reading for one instrument.
type Technicals struct {
	Symbol        string             `json:"symbol"`
	Date          string             `json:"date"`
	Close         float64            `json:"close"`
	Bars          int                `json:"bars"`
	Values        map[string]float64 `json:"values"`
	Skipped       []string           `json:"skipped,omitempty"`
	Support       []float64          `json:"support,omitempty"`
	Resistance    []float64          `json:"resistance,omitempty"`
	VolumePOC     float64            `json:"volume_poc"`
	UpperCircuits int                `json:"upper_circuits"`
	LowerCircuits int                `json:"lower_circuits"`
}
