package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/ledger/internal/app"
	"github.com/odyssey-erp/ledger/internal/corptax"
)

var taxCmd = &cobra.Command{
	Use:   "tax",
	Short: "Corporate tax filings",
}

func printFiling(f corptax.Filing) error {
	if flagJSON {
		return json.NewEncoder(os.Stdout).Encode(f)
	}
	fmt.Printf("Filing %d %s %s..%s [%s] profit %s rate %s%% tax %s\n",
		f.ID, f.Country, f.PeriodStart.Format("2006-01-02"), f.PeriodEnd.Format("2006-01-02"),
		f.Status, f.Profit.StringFixed(2), f.TaxRate.String(), f.TaxAmount.StringFixed(2))
	return nil
}

var (
	taxCountry  string
	taxFrom     string
	taxTo       string
	taxOrg      int64
	taxOverride bool
)

var taxAccrueCmd = &cobra.Command{
	Use:   "accrue",
	Short: "Accrue corporate tax for a period",
	RunE: func(cmd *cobra.Command, args []string) error {
		start, err := time.Parse("2006-01-02", taxFrom)
		if err != nil {
			return fmt.Errorf("--from must be YYYY-MM-DD")
		}
		end, err := time.Parse("2006-01-02", taxTo)
		if err != nil {
			return fmt.Errorf("--to must be YYYY-MM-DD")
		}
		in := corptax.AccrueInput{
			Country:       taxCountry,
			PeriodStart:   start,
			PeriodEnd:     end,
			AllowOverride: taxOverride,
			ActorID:       flagActor,
		}
		if taxOrg > 0 {
			in.OrganizationID = &taxOrg
		}
		return withServices(cmd.Context(), func(s *app.Services) error {
			f, err := s.CorpTax.Accrue(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printFiling(f)
		})
	},
}

var taxFileCmd = &cobra.Command{
	Use:   "file <filing-id>",
	Short: "Mark an accrued filing as filed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withServices(cmd.Context(), func(s *app.Services) error {
			f, err := s.CorpTax.File(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printFiling(f)
		})
	},
}

var taxReverseCmd = &cobra.Command{
	Use:   "reverse <filing-id>",
	Short: "Reverse a filing and its accrual journal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withServices(cmd.Context(), func(s *app.Services) error {
			f, err := s.CorpTax.ReverseFiling(cmd.Context(), id, flagActor)
			if err != nil {
				return err
			}
			return printFiling(f)
		})
	},
}

var taxShowCmd = &cobra.Command{
	Use:   "show <filing-id>",
	Short: "Show a filing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withServices(cmd.Context(), func(s *app.Services) error {
			f, err := s.CorpTax.GetFiling(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printFiling(f)
		})
	},
}

func init() {
	taxAccrueCmd.Flags().StringVar(&taxCountry, "country", "", "Country code")
	taxAccrueCmd.Flags().StringVar(&taxFrom, "from", "", "Period start (YYYY-MM-DD)")
	taxAccrueCmd.Flags().StringVar(&taxTo, "to", "", "Period end (YYYY-MM-DD)")
	taxAccrueCmd.Flags().Int64Var(&taxOrg, "org", 0, "Organization id")
	taxAccrueCmd.Flags().BoolVar(&taxOverride, "override", false, "Reverse the live filing of the period and accrue anew")
	_ = taxAccrueCmd.MarkFlagRequired("country")
	_ = taxAccrueCmd.MarkFlagRequired("from")
	_ = taxAccrueCmd.MarkFlagRequired("to")

	taxCmd.AddCommand(taxAccrueCmd, taxFileCmd, taxReverseCmd, taxShowCmd)
	rootCmd.AddCommand(taxCmd)
}
