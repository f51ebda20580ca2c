package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/ledger/cmd/ledgerctl/cli"
	"github.com/odyssey-erp/ledger/internal/app"
	"github.com/odyssey-erp/ledger/internal/fx"
)

var fxCmd = &cobra.Command{
	Use:   "fx",
	Short: "Query and maintain exchange rates",
}

var (
	fxFrom   string
	fxTo     string
	fxDate   string
	fxType   string
	fxAmount string
)

func fxQuery() (time.Time, fx.RateType, error) {
	date := time.Now().UTC()
	if fxDate != "" {
		var err error
		if date, err = time.Parse("2006-01-02", fxDate); err != nil {
			return time.Time{}, "", fmt.Errorf("--date must be YYYY-MM-DD")
		}
	}
	typ := fx.RateType(strings.ToUpper(fxType))
	if !typ.Valid() {
		return time.Time{}, "", fmt.Errorf("unknown rate type %q", fxType)
	}
	return date, typ, nil
}

var fxRateCmd = &cobra.Command{
	Use:   "rate",
	Short: "Show the rate effective on a date",
	RunE: func(cmd *cobra.Command, args []string) error {
		date, typ, err := fxQuery()
		if err != nil {
			return err
		}
		return withServices(cmd.Context(), func(s *app.Services) error {
			rate, err := s.FX.GetRate(cmd.Context(), fxFrom, fxTo, date, typ)
			if err != nil {
				return err
			}
			fmt.Printf("%s/%s %s %s: %s\n", strings.ToUpper(fxFrom), strings.ToUpper(fxTo), typ, date.Format("2006-01-02"), rate)
			return nil
		})
	},
}

var fxConvertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert an amount between currencies",
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := decimal.NewFromString(fxAmount)
		if err != nil {
			return fmt.Errorf("--amount must be a decimal")
		}
		date, typ, err := fxQuery()
		if err != nil {
			return err
		}
		return withServices(cmd.Context(), func(s *app.Services) error {
			converted, err := s.FX.Convert(cmd.Context(), amount, fxFrom, fxTo, date, typ)
			if err != nil {
				return err
			}
			fmt.Printf("%s %s = %s %s\n", amount.String(), strings.ToUpper(fxFrom), converted.StringFixed(2), strings.ToUpper(fxTo))
			return nil
		})
	},
}

var (
	fxImportSource string
	fxImportMode   string
)

var fxImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import rates from CSV (date,from,to,type,rate)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd.Context(), func(s *app.Services) error {
			ops, err := cli.NewFXOpsCLI(s.FX)
			if err != nil {
				return err
			}
			code := ops.ImportCommand(cmd.Context(), cli.FXImportOptions{
				Mode:       cli.FXImportMode(fxImportMode),
				Source:     fxImportSource,
				JSONOutput: flagJSON,
			})
			if code != 0 {
				return exitError{code: code}
			}
			return nil
		})
	},
}

var (
	fxValidatePairs []string
	fxValidateTypes []string
)

var fxValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check that rates exist for the given pairs on a date",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd.Context(), func(s *app.Services) error {
			ops, err := cli.NewFXOpsCLI(s.FX)
			if err != nil {
				return err
			}
			code := ops.ValidateCommand(cmd.Context(), cli.FXValidateOptions{
				Date:       fxDate,
				Pairs:      fxValidatePairs,
				Types:      fxValidateTypes,
				JSONOutput: flagJSON,
			})
			if code != 0 {
				return exitError{code: code}
			}
			return nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{fxRateCmd, fxConvertCmd} {
		c.Flags().StringVar(&fxFrom, "from", "", "Source currency")
		c.Flags().StringVar(&fxTo, "to", "", "Target currency")
		c.Flags().StringVar(&fxDate, "date", "", "Rate date (YYYY-MM-DD, defaults to today)")
		c.Flags().StringVar(&fxType, "type", string(fx.RateSpot), "Rate type (SPOT, AVERAGE, FIXED, CLOSING)")
		_ = c.MarkFlagRequired("from")
		_ = c.MarkFlagRequired("to")
	}
	fxConvertCmd.Flags().StringVar(&fxAmount, "amount", "", "Amount to convert")
	_ = fxConvertCmd.MarkFlagRequired("amount")

	fxImportCmd.Flags().StringVar(&fxImportSource, "source", "", "CSV file, or - for stdin")
	fxImportCmd.Flags().StringVar(&fxImportMode, "mode", string(cli.FXImportModeDry), "dry or apply")

	fxValidateCmd.Flags().StringVar(&fxDate, "date", "", "Date to check (YYYY-MM-DD)")
	fxValidateCmd.Flags().StringSliceVar(&fxValidatePairs, "pair", nil, "Currency pair such as USD/IDR (repeatable)")
	fxValidateCmd.Flags().StringSliceVar(&fxValidateTypes, "type", nil, "Rate types to check (defaults to SPOT)")
	_ = fxValidateCmd.MarkFlagRequired("date")

	fxCmd.AddCommand(fxRateCmd, fxConvertCmd, fxImportCmd, fxValidateCmd)
	rootCmd.AddCommand(fxCmd)
}
