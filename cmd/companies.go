package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/registry-sync/internal/model"
)

var companiesCmd = &cobra.Command{
	Use:   "companies",
	Short: "Inspect the company registry",
}

var companiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registry entries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		blacklisted, _ := cmd.Flags().GetString("blacklisted")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		filter := model.CompanyFilter{Limit: limit, Offset: offset}
		if blacklisted != "" {
			b, err := strconv.ParseBool(blacklisted)
			if err != nil {
				return eris.Errorf("--blacklisted must be true or false, got %q", blacklisted)
			}
			filter.Blacklisted = &b
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		companies, err := st.ListCompanies(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "companies list")
		}
		if len(companies) == 0 {
			fmt.Fprintln(os.Stderr, "No companies found.")
			return nil
		}

		formatCompaniesList(os.Stdout, companies)
		return nil
	},
}

func init() {
	companiesListCmd.Flags().String("blacklisted", "", "filter by blacklist flag (true, false)")
	companiesListCmd.Flags().Int("limit", 100, "max number of entries to display")
	companiesListCmd.Flags().Int("offset", 0, "number of entries to skip")

	companiesCmd.AddCommand(companiesListCmd)
	rootCmd.AddCommand(companiesCmd)
}

// formatCompaniesList writes a tabular list of registry entries to w.
func formatCompaniesList(out io.Writer, companies []model.Company) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID_NAME\tLEGAL_NAME\tLEGAL_ID\tCATEGORY\tBLACKLISTED")
	_, _ = fmt.Fprintln(w, "-------\t----------\t--------\t--------\t-----------")

	for _, c := range companies {
		flagged := ""
		if c.BlacklistedAt != nil {
			flagged = c.BlacklistedAt.Format("2006-01-02 15:04")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			c.IDName,
			c.LegalName,
			c.LegalID,
			c.Category,
			flagged,
		)
	}
	_ = w.Flush()
}
