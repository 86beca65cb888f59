package cli

import (
	"fmt"
	"math"
	"strings"
	"time"

	"nepse-simulator/internal/models"
)

// FormatNPR formats an amount in Nepali rupees with lakh/crore grouping.
func FormatNPR(amount float64) string {
	negative := amount < 0
	if negative {
		amount = -amount
	}

	str := fmt.Sprintf("%.2f", amount)
	parts := strings.Split(str, ".")
	result := "Rs." + groupLakh(parts[0]) + "." + parts[1]
	if negative {
		result = "-" + result
	}
	return result
}

// groupLakh groups an integer string as 1,00,00,000: one group of three
// digits from the right, then groups of two.
func groupLakh(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}

	result := s[n-3:]
	s = s[:n-3]
	for len(s) > 0 {
		if len(s) >= 2 {
			result = s[len(s)-2:] + "," + result
			s = s[:len(s)-2]
		} else {
			result = s + "," + result
			s = ""
		}
	}
	return result
}

// FormatPercent formats a percentage with sign.
func FormatPercent(value float64) string {
	sign := ""
	if value > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f%%", sign, value)
}

// FormatPnL formats P&L with sign.
func FormatPnL(pnl float64) string {
	formatted := FormatNPR(pnl)
	if pnl > 0 {
		return "+" + formatted
	}
	return formatted
}

// FormatQuantity formats a share count with lakh grouping.
func FormatQuantity(qty int64) string {
	if qty < 0 {
		return "-" + groupLakh(fmt.Sprintf("%d", -qty))
	}
	return groupLakh(fmt.Sprintf("%d", qty))
}

// FormatCompact formats an amount in lakhs or crores when large.
func FormatCompact(amount float64) string {
	abs := math.Abs(amount)
	switch {
	case abs >= 1e7:
		return fmt.Sprintf("%.2f Cr", amount/1e7)
	case abs >= 1e5:
		return fmt.Sprintf("%.2f L", amount/1e5)
	}
	return FormatNPR(amount)
}

// FormatVolume formats volume in compact form.
func FormatVolume(volume int64) string {
	switch {
	case volume >= 10000000:
		return fmt.Sprintf("%.2f Cr", float64(volume)/10000000)
	case volume >= 100000:
		return fmt.Sprintf("%.2f L", float64(volume)/100000)
	case volume >= 1000:
		return fmt.Sprintf("%.2f K", float64(volume)/1000)
	}
	return fmt.Sprintf("%d", volume)
}

// FormatPrice formats a price to paisa precision.
func FormatPrice(price float64) string {
	return fmt.Sprintf("%.2f", price)
}

// FormatDate formats a trading date.
func FormatDate(t time.Time) string {
	return t.Format(models.DateLayout)
}

// FormatDuration formats a duration in human-readable form.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

// FormatSessionTime renders a session minute as wall-clock time from the 10:00 open.
func FormatSessionTime(minute int) string {
	t := 10*60 + minute
	return fmt.Sprintf("%02d:%02d", t/60, t%60)
}

// FormatChange formats a price change.
func FormatChange(change, changePct float64) string {
	sign := ""
	if change > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f (%s%.2f%%)", sign, change, sign, changePct)
}

// TruncateString truncates a string to max length with ellipsis.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
