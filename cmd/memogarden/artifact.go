package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/memogarden/memogarden/internal/verb"
)

var showCommitHash string
var showRaw bool

var showArtifactCmd = &cobra.Command{
	Use:   "show-artifact <artifact-uuid>",
	Short: "Show an artifact's content at a commit, rendered as Markdown",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := dispatch(verb.OpGetArtifactAtCommit, map[string]any{
			"artifact":    args[0],
			"commit_hash": showCommitHash,
		})
		if err != nil {
			return err
		}
		if !resp.OK {
			if resp.Error != nil {
				return fmt.Errorf("%s: %s", resp.Error.Code, resp.Error.Message)
			}
			return fmt.Errorf("request failed")
		}
		data, ok := resp.Result.(map[string]any)
		if !ok {
			return printResult(resp)
		}
		content, _ := data["content"].(string)
		if showRaw || content == "" {
			return printResult(resp)
		}
		rendered, err := renderMarkdown(content)
		if err != nil {
			return err
		}
		fmt.Print(rendered)
		return nil
	},
}

func init() {
	showArtifactCmd.Flags().StringVar(&showCommitHash, "commit", "", "commit hash (defaults to the latest commit)")
	showArtifactCmd.Flags().BoolVar(&showRaw, "raw", false, "print the raw JSON result instead of rendering Markdown")
	rootCmd.AddCommand(showArtifactCmd)
}
