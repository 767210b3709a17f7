package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var classifyCode string

var classifyCmd = &cobra.Command{
	Use:   "classify TEXT...",
	Short: "Show the stage each status text maps to",
	Long: `Run status texts through the configured keyword table and print the
stage each one maps to. Unrecognized texts print "-".

Examples:
  emitrack classify "Firmando electrónicamente" "Enviando al SRI"
  emitrack classify --code SIGNED "anything"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runClassify,
}

func init() {
	rootCmd.AddCommand(classifyCmd)
	classifyCmd.Flags().StringVar(&classifyCode, "code", "", "Status code checked before keywords")
}

func runClassify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	classifier, err := cfg.Classifier()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "TEXT\tSTAGE\tSTEP")
	for _, text := range args {
		stage, ok := classifier.ClassifyCode(classifier.MessageType(), classifyCode, text)
		if !ok {
			fmt.Fprintf(w, "%s\t-\t-\n", text)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%d. %s\n", text, stage, int(stage)+1, stage.Label())
	}
	return nil
}
