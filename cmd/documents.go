package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/registry-sync/internal/model"
)

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "Manage ingested registry documents",
	Long:  "Commands for listing, uploading and re-processing stored PDF documents.",
}

// -- documents list --

var documentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		filter := model.DocumentFilter{Status: model.DocumentStatus(status), Limit: limit, Offset: offset}
		if filter.Status != "" && !filter.Status.Valid() {
			return eris.Errorf("unknown document status %q", status)
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		docs, err := st.ListDocuments(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "documents list")
		}
		if len(docs) == 0 {
			fmt.Fprintln(os.Stderr, "No documents found.")
			return nil
		}

		formatDocumentsList(os.Stdout, docs)
		return nil
	},
}

// -- documents show --

var documentsShowCmd = &cobra.Command{
	Use:   "show <document-id>",
	Short: "Show one document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		doc, err := st.GetDocument(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "documents show")
		}
		return writeOutput(os.Stdout, "json", doc)
	},
}

// -- documents upload --

var documentsUploadCmd = &cobra.Command{
	Use:   "upload <file.pdf>",
	Short: "Store a local PDF as a new pending document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrap(err, "documents upload: open file")
		}
		defer f.Close() //nolint:errcheck

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		doc, err := env.Docs.Upload(ctx, filepath.Base(args[0]), f)
		if err != nil {
			return eris.Wrap(err, "documents upload")
		}

		process, _ := cmd.Flags().GetBool("process")
		if !process {
			return writeOutput(os.Stdout, "json", doc)
		}
		summary, err := env.Pipeline.ProcessDocument(ctx, doc.ID)
		if err != nil {
			return eris.Wrap(err, "documents upload: process")
		}
		return writeOutput(os.Stdout, "json", summary)
	},
}

// -- documents process --

var documentsProcessCmd = &cobra.Command{
	Use:   "process <document-id>",
	Short: "Validate, parse and sync a stored document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		summary, err := env.Pipeline.ProcessDocument(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "documents process")
		}
		output, _ := cmd.Flags().GetString("output")
		return writeOutput(os.Stdout, output, summary)
	},
}

// -- documents parse --

var documentsParseCmd = &cobra.Command{
	Use:   "parse <document-id>",
	Short: "Re-parse a document and replace its structured company record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		rec, err := env.Pipeline.ParseDocument(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "documents parse")
		}
		payload, err := rec.Companies()
		if err != nil {
			return err
		}
		output, _ := cmd.Flags().GetString("output")
		return writeOutput(os.Stdout, output, payload)
	},
}

// -- documents debug --

var documentsDebugCmd = &cobra.Command{
	Use:   "debug <document-id>",
	Short: "Show how many rows each parse filter dropped, without saving",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		doc, err := env.Store.GetDocument(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "documents debug")
		}
		path, cleanup, err := env.Docs.LocalCopy(ctx, doc)
		if err != nil {
			return err
		}
		defer cleanup()

		report, err := env.Parser.Debug(ctx, path)
		if err != nil {
			return eris.Wrap(err, "documents debug")
		}
		return writeOutput(os.Stdout, "json", report)
	},
}

// -- documents sync --

var documentsSyncCmd = &cobra.Command{
	Use:   "sync <document-id>",
	Short: "Reconcile a parsed document against the company registry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		stats, err := env.Pipeline.SyncDocument(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "documents sync")
		}
		output, _ := cmd.Flags().GetString("output")
		return writeOutput(os.Stdout, output, stats)
	},
}

func init() {
	documentsListCmd.Flags().String("status", "", "filter by status (pending, processing, completed, failed)")
	documentsListCmd.Flags().Int("limit", 50, "max number of documents to display")
	documentsListCmd.Flags().Int("offset", 0, "number of documents to skip")

	documentsUploadCmd.Flags().Bool("process", false, "process the document right after storing it")

	for _, c := range []*cobra.Command{documentsProcessCmd, documentsParseCmd, documentsSyncCmd} {
		c.Flags().StringP("output", "o", "json", "output format (json, yaml)")
	}

	documentsCmd.AddCommand(documentsListCmd)
	documentsCmd.AddCommand(documentsShowCmd)
	documentsCmd.AddCommand(documentsUploadCmd)
	documentsCmd.AddCommand(documentsProcessCmd)
	documentsCmd.AddCommand(documentsParseCmd)
	documentsCmd.AddCommand(documentsDebugCmd)
	documentsCmd.AddCommand(documentsSyncCmd)
	rootCmd.AddCommand(documentsCmd)
}

// formatDocumentsList writes a tabular list of documents to w.
func formatDocumentsList(out io.Writer, docs []model.Document) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tFILENAME\tSTATUS\tPAGES\tSIZE\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t--------\t------\t-----\t----\t-------")

	for _, d := range docs {
		name := d.OriginalFilename
		if len(name) > 40 {
			name = name[:37] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			truncateID(d.ID),
			name,
			d.Status,
			d.PageCount,
			humanSize(d.Size),
			d.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// humanSize formats a byte count with a binary unit.
func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
