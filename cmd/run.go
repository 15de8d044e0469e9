package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/registry-sync/internal/model"
	"github.com/sells-group/registry-sync/internal/pipeline"
)

var (
	runPageURL     string
	runAttribute   string
	runHeadersJSON string
	runOutput      string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline for one listing page",
	Long:  "Locates the registry PDF on --page-url by its marker attribute, downloads and parses it, then syncs the companies it lists.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		headers, err := parseHeaders(runHeadersJSON)
		if err != nil {
			return err
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		summary, err := env.Pipeline.Run(ctx, pipeline.Request{
			PageURL:       runPageURL,
			AttributeName: runAttribute,
			Headers:       headers,
		})
		if err != nil {
			return eris.Wrap(err, "run")
		}

		zap.L().Info("run complete",
			zap.String("document_id", summary.DocumentID),
			zap.Int("companies", summary.CompaniesExtracted),
		)
		return writeOutput(os.Stdout, runOutput, summary)
	},
}

// parseHeaders decodes --headers-json. An empty value means no headers.
func parseHeaders(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if !strings.HasPrefix(raw, "{") {
		return nil, eris.Wrap(model.ErrInvalidInput, "headers-json must be a JSON object")
	}
	var headers map[string]string
	if err := json.Unmarshal([]byte(raw), &headers); err != nil {
		return nil, eris.Wrapf(model.ErrInvalidInput, "headers-json must map header names to strings: %v", err)
	}
	return headers, nil
}

func init() {
	runCmd.Flags().StringVar(&runPageURL, "page-url", "", "listing page that links the registry PDF")
	runCmd.Flags().StringVar(&runAttribute, "attribute-name", "", "attribute marking the PDF link")
	runCmd.Flags().StringVar(&runHeadersJSON, "headers-json", "", "extra request headers as a JSON object")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "json", "output format (json, yaml)")
	_ = runCmd.MarkFlagRequired("page-url")
	_ = runCmd.MarkFlagRequired("attribute-name")
	rootCmd.AddCommand(runCmd)
}
