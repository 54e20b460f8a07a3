package verification

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders the report as Markdown.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	sb.WriteString("# Twin Verification Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))

	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Wallets | %d |\n", r.Wallets))
	sb.WriteString(fmt.Sprintf("| Matched | %d |\n", r.Matched))
	sb.WriteString(fmt.Sprintf("| Diverged | %d |\n", r.Diverged))
	sb.WriteString(fmt.Sprintf("| Pending deployment | %d |\n", r.Pending))
	sb.WriteString(fmt.Sprintf("| Unreadable | %d |\n", r.Errors))
	sb.WriteString("\n")

	divergent := r.Divergent()
	if len(divergent) == 0 {
		sb.WriteString("**All deployed twins match.**\n")
		return sb.String()
	}

	sb.WriteString("## Divergences\n\n")
	sb.WriteString("| Wallet | Twin Wallet | Mint | Twin Mint | Expected | Actual | Diff |\n")
	sb.WriteString("|--------|-------------|------|-----------|----------|--------|------|\n")
	for _, res := range divergent {
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %d | %d | %+d |\n",
			res.Wallet, res.TwinWallet, res.Mint, res.TwinMint, res.Expected, res.Actual, res.Diff()))
	}
	return sb.String()
}

// RenderCSV renders every result as CSV.
func RenderCSV(r *Report) string {
	var sb strings.Builder

	sb.WriteString("wallet,twin_wallet,mint,twin_mint,expected,actual,diff,status,error\n")
	for _, res := range r.Results {
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%s,%d,%d,%d,%s,%s\n",
			res.Wallet,
			res.TwinWallet,
			res.Mint,
			res.TwinMint,
			res.Expected,
			res.Actual,
			res.Diff(),
			res.Status,
			csvField(res.Err),
		))
	}
	return sb.String()
}

func csvField(s string) string {
	if !strings.ContainsAny(s, ",\"\n") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
