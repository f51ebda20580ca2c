package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/odyssey-erp/ledger/internal/fx"
)

// FXValidateOptions defines available flags for the fx validate command.
type FXValidateOptions struct {
	Date       string
	Pairs      []string
	Types      []string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// FXValidateSummary describes the JSON response for fx validate.
type FXValidateSummary struct {
	OK        bool                       `json:"ok"`
	Date      string                     `json:"date"`
	Gaps      []FXValidationGap          `json:"gaps"`
	Available []FXValidationAvailability `json:"available"`
}

// FXValidationGap captures a pair and type without an effective rate.
type FXValidationGap struct {
	Pair string `json:"pair"`
	Type string `json:"type"`
}

// FXValidationAvailability reports an effective rate.
type FXValidationAvailability struct {
	Pair string `json:"pair"`
	Type string `json:"type"`
	Rate string `json:"rate"`
}

// ValidateCommand checks that every requested pair has a rate effective on the
// date. It exits 10 when gaps are found.
func (c *FXOpsCLI) ValidateCommand(ctx context.Context, opts FXValidateOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	date, err := time.Parse("2006-01-02", strings.TrimSpace(opts.Date))
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "fx validate: invalid date %q (expected YYYY-MM-DD)\n", opts.Date)
		return 1
	}
	if len(opts.Pairs) == 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "fx validate: at least one --pair is required")
		return 1
	}
	types, err := parseRateTypes(opts.Types)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "fx validate: %v\n", err)
		return 1
	}
	summary := FXValidateSummary{Date: date.Format("2006-01-02"), Gaps: []FXValidationGap{}, Available: []FXValidationAvailability{}}
	for _, raw := range opts.Pairs {
		from, to, err := splitPair(raw)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "fx validate: %s: %v\n", raw, err)
			return 1
		}
		pair := from + to
		for _, typ := range types {
			rate, err := c.rates.GetRate(ctx, from, to, date, typ)
			switch {
			case errors.Is(err, fx.ErrRateNotFound):
				summary.Gaps = append(summary.Gaps, FXValidationGap{Pair: pair, Type: string(typ)})
			case err != nil:
				_, _ = fmt.Fprintf(opts.Stderr, "fx validate: %s %s: %v\n", pair, typ, err)
				return 1
			default:
				summary.Available = append(summary.Available, FXValidationAvailability{Pair: pair, Type: string(typ), Rate: rate.String()})
			}
		}
	}
	sort.Slice(summary.Gaps, func(i, j int) bool {
		if summary.Gaps[i].Pair == summary.Gaps[j].Pair {
			return summary.Gaps[i].Type < summary.Gaps[j].Type
		}
		return summary.Gaps[i].Pair < summary.Gaps[j].Pair
	})
	summary.OK = len(summary.Gaps) == 0

	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "fx validate: encode json: %v\n", err)
			return 1
		}
	} else {
		renderValidateHuman(opts.Stdout, summary)
	}
	if !summary.OK {
		return 10
	}
	return 0
}

func renderValidateHuman(out io.Writer, summary FXValidateSummary) {
	_, _ = fmt.Fprintf(out, "FX validation for %s\n", summary.Date)
	if summary.OK {
		_, _ = fmt.Fprintln(out, "All required FX rates are present.")
	} else {
		_, _ = fmt.Fprintf(out, "%d gap(s) detected:\n", len(summary.Gaps))
		for _, gap := range summary.Gaps {
			_, _ = fmt.Fprintf(out, " - %s missing %s\n", gap.Pair, gap.Type)
		}
	}
	for _, a := range summary.Available {
		_, _ = fmt.Fprintf(out, " - %s %s %s\n", a.Pair, a.Type, a.Rate)
	}
}
