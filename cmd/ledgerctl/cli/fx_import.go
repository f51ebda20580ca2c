package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/fx"
)

// FXImportMode enumerates supported execution strategies.
type FXImportMode string

const (
	// FXImportModeDry previews changes without applying them.
	FXImportModeDry FXImportMode = "dry"
	// FXImportModeApply persists rates after confirmation.
	FXImportModeApply FXImportMode = "apply"
)

// FXImportOptions configures the import command execution.
type FXImportOptions struct {
	Mode         FXImportMode
	Source       string
	SourceReader io.Reader
	JSONOutput   bool
	Stdout       io.Writer
	Stderr       io.Writer
	Stdin        io.Reader
	Confirm      func(io.Reader, io.Writer) (bool, error)
}

// FXImportRow is one rate read from the source.
type FXImportRow struct {
	Date     string `json:"date"`
	From     string `json:"from"`
	To       string `json:"to"`
	Type     string `json:"type"`
	Rate     string `json:"rate"`
	Current  string `json:"current,omitempty"`
	Status   string `json:"status"`
	rateDate time.Time
	rate     decimal.Decimal
}

const (
	rowNew       = "new"
	rowChanged   = "changed"
	rowUnchanged = "unchanged"
)

// FXImportSummary captures the structured reporting outcome.
type FXImportSummary struct {
	Mode    FXImportMode  `json:"mode"`
	Rows    []FXImportRow `json:"rows"`
	Pending int           `json:"pending"`
	Applied int           `json:"applied"`
}

// ImportCommand loads rates from CSV (date,from,to,type,rate) and compares them
// with the effective rate on each date. Dry runs exit 10 when rows would change.
func (c *FXOpsCLI) ImportCommand(ctx context.Context, opts FXImportOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Mode == "" {
		opts.Mode = FXImportModeDry
	}
	mode := FXImportMode(strings.ToLower(string(opts.Mode)))
	switch mode {
	case FXImportModeDry, FXImportModeApply:
	default:
		fmt.Fprintf(opts.Stderr, "fx import: invalid mode %q (expected dry or apply)\n", opts.Mode)
		return 1
	}
	rows, err := loadImportRows(opts)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "fx import: %v\n", err)
		return 1
	}
	summary := FXImportSummary{Mode: mode, Rows: rows}
	for i := range summary.Rows {
		row := &summary.Rows[i]
		current, err := c.rates.GetRate(ctx, row.From, row.To, row.rateDate, fx.RateType(row.Type))
		switch {
		case errors.Is(err, fx.ErrRateNotFound):
			row.Status = rowNew
		case err != nil:
			fmt.Fprintf(opts.Stderr, "fx import: lookup %s%s %s: %v\n", row.From, row.To, row.Date, err)
			return 1
		case current.Equal(row.rate):
			row.Status = rowUnchanged
			row.Current = current.String()
		default:
			row.Status = rowChanged
			row.Current = current.String()
		}
		if row.Status != rowUnchanged {
			summary.Pending++
		}
	}
	if mode == FXImportModeDry || summary.Pending == 0 {
		if err := writeImportOutput(opts, summary); err != nil {
			fmt.Fprintf(opts.Stderr, "fx import: %v\n", err)
			return 1
		}
		if mode == FXImportModeDry && summary.Pending > 0 {
			return 10
		}
		return 0
	}
	confirm := opts.Confirm
	if confirm == nil {
		confirm = defaultImportConfirm
	}
	ok, err := confirm(opts.Stdin, opts.Stdout)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "fx import: confirmation failed: %v\n", err)
		return 1
	}
	if !ok {
		fmt.Fprintln(opts.Stderr, "fx import: cancelled by user")
		return 1
	}
	for _, row := range summary.Rows {
		if row.Status == rowUnchanged {
			continue
		}
		_, err := c.rates.UpsertRate(ctx, fx.ExchangeRate{
			From:     row.From,
			To:       row.To,
			RateDate: row.rateDate,
			Rate:     row.rate,
			Type:     fx.RateType(row.Type),
			Source:   "ledgerctl",
			IsActive: true,
		})
		if err != nil {
			fmt.Fprintf(opts.Stderr, "fx import: apply %s%s %s failed: %v\n", row.From, row.To, row.Date, err)
			return 1
		}
		summary.Applied++
	}
	if err := writeImportOutput(opts, summary); err != nil {
		fmt.Fprintf(opts.Stderr, "fx import: %v\n", err)
		return 1
	}
	return 0
}

func loadImportRows(opts FXImportOptions) ([]FXImportRow, error) {
	var data []byte
	var err error
	switch {
	case opts.SourceReader != nil:
		data, err = io.ReadAll(opts.SourceReader)
	case opts.Source == "-":
		data, err = io.ReadAll(opts.Stdin)
	case strings.TrimSpace(opts.Source) == "":
		return nil, errors.New("--source is required")
	default:
		data, err = os.ReadFile(opts.Source)
	}
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	reader := csv.NewReader(bytes.NewReader(data))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	header, err := nextNonEmptyRecord(reader)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	indexes := map[string]int{"date": -1, "from": -1, "to": -1, "type": -1, "rate": -1}
	for i, col := range header {
		switch name := strings.ToLower(strings.TrimSpace(col)); name {
		case "date", "rate_date":
			indexes["date"] = i
		case "from", "from_currency":
			indexes["from"] = i
		case "to", "to_currency":
			indexes["to"] = i
		case "type", "rate_type":
			indexes["type"] = i
		case "rate":
			indexes["rate"] = i
		}
	}
	if indexes["date"] < 0 || indexes["from"] < 0 || indexes["to"] < 0 || indexes["rate"] < 0 {
		return nil, errors.New("missing required columns in source (need date, from, to, rate)")
	}
	var rows []FXImportRow
	for line := 2; ; line++ {
		record, err := nextNonEmptyRecord(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		field := func(name string) string {
			idx := indexes[name]
			if idx < 0 || idx >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[idx])
		}
		row, err := parseImportRow(field("date"), field("from"), field("to"), field("type"), field("rate"))
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Date == rows[j].Date {
			return rows[i].From+rows[i].To < rows[j].From+rows[j].To
		}
		return rows[i].Date < rows[j].Date
	})
	return rows, nil
}

func parseImportRow(date, from, to, typ, rate string) (FXImportRow, error) {
	rateDate, err := time.Parse("2006-01-02", date)
	if err != nil {
		return FXImportRow{}, fmt.Errorf("invalid date %q", date)
	}
	value, err := decimal.NewFromString(rate)
	if err != nil {
		return FXImportRow{}, fmt.Errorf("invalid rate %q", rate)
	}
	if typ == "" {
		typ = string(fx.RateSpot)
	}
	er := fx.ExchangeRate{From: from, To: to, RateDate: rateDate, Rate: value, Type: fx.RateType(strings.ToUpper(typ))}
	if err := er.Validate(); err != nil {
		return FXImportRow{}, err
	}
	return FXImportRow{
		Date:     er.RateDate.Format("2006-01-02"),
		From:     er.From,
		To:       er.To,
		Type:     string(er.Type),
		Rate:     er.Rate.String(),
		rateDate: er.RateDate,
		rate:     er.Rate,
	}, nil
}

func nextNonEmptyRecord(r *csv.Reader) ([]string, error) {
	for {
		record, err := r.Read()
		if err != nil {
			return nil, err
		}
		skip := true
		for _, field := range record {
			trimmed := strings.TrimSpace(field)
			if trimmed == "" || strings.HasPrefix(trimmed, "#") {
				continue
			}
			skip = false
		}
		if skip {
			continue
		}
		return record, nil
	}
}

func writeImportOutput(opts FXImportOptions, summary FXImportSummary) error {
	if opts.JSONOutput {
		return json.NewEncoder(opts.Stdout).Encode(summary)
	}
	renderImportHuman(opts.Stdout, summary)
	return nil
}

func renderImportHuman(out io.Writer, summary FXImportSummary) {
	fmt.Fprintf(out, "FX import (%s): %d row(s), %d pending\n", summary.Mode, len(summary.Rows), summary.Pending)
	for _, row := range summary.Rows {
		switch row.Status {
		case rowNew:
			fmt.Fprintf(out, " + %s %s/%s %s %s\n", row.Date, row.From, row.To, row.Type, row.Rate)
		case rowChanged:
			fmt.Fprintf(out, " ~ %s %s/%s %s %s (was %s)\n", row.Date, row.From, row.To, row.Type, row.Rate, row.Current)
		}
	}
	if summary.Applied > 0 {
		fmt.Fprintf(out, "Applied %d rate(s).\n", summary.Applied)
	}
}

func defaultImportConfirm(r io.Reader, w io.Writer) (bool, error) {
	fmt.Fprint(w, "Apply FX import? Type YES to confirm: ")
	reader := bufio.NewReader(r)
	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(line), "YES"), nil
}
