package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/donor-caging/internal/caging"
	"github.com/sells-group/donor-caging/internal/model"
)

var categorizeFile string

var categorizeCmd = &cobra.Command{
	Use:   "categorize",
	Short: "Categorize a donor from a YAML file without applying the result",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("categorize"); err != nil {
			return err
		}

		sub, err := readSubmission(categorizeFile)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := caging.NewPipeline(st, nil).DryRun(ctx, sub)
		if err != nil {
			return eris.Wrap(err, "categorize")
		}
		return printResult(cmd.OutOrStdout(), res)
	},
}

func readSubmission(path string) (model.Submission, error) {
	var sub model.Submission
	data, err := os.ReadFile(path)
	if err != nil {
		return sub, eris.Wrapf(err, "read %s", path)
	}
	if err := yaml.Unmarshal(data, &sub); err != nil {
		return sub, eris.Wrapf(err, "parse %s", path)
	}
	return sub, nil
}

func printResult(w io.Writer, res caging.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func init() {
	categorizeCmd.Flags().StringVar(&categorizeFile, "file", "", "path to a YAML donor submission (required)")
	_ = categorizeCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(categorizeCmd)
}
