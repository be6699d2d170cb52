package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/memogarden/memogarden/internal/verb"
)

var (
	createType string
	createData string
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new entity in the Core store",
	RunE: func(cmd *cobra.Command, args []string) error {
		var data json.RawMessage
		if createData != "" {
			data = json.RawMessage(createData)
		}
		resp, err := dispatch(verb.OpCreate, map[string]any{
			"type": createType,
			"data": data,
		})
		if err != nil {
			return err
		}
		return printResult(resp)
	},
}

var getCmd = &cobra.Command{
	Use:   "get <uuid>",
	Short: "Fetch an entity or fact by UUID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := dispatch(verb.OpGet, map[string]any{"target": args[0]})
		if err != nil {
			return err
		}
		return printResult(resp)
	},
}

var querySince string

var queryCmd = &cobra.Command{
	Use:   "query <type>",
	Short: "List entities of a given type",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := dispatch(verb.OpQuery, map[string]any{"type": args[0]})
		if err != nil {
			return err
		}
		cutoff, err := parseWhen(querySince)
		if err != nil {
			return err
		}
		if !cutoff.IsZero() {
			filterRowsSince(&resp, cutoff)
		}
		return printResult(resp)
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Substring search across entities and facts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := dispatch(verb.OpSearch, map[string]any{"query": args[0]})
		if err != nil {
			return err
		}
		return printResult(resp)
	},
}

func init() {
	createCmd.Flags().StringVar(&createType, "type", "", "entity type")
	createCmd.Flags().StringVar(&createData, "data", "{}", "entity data as a JSON object")
	_ = createCmd.MarkFlagRequired("type")

	queryCmd.Flags().StringVar(&querySince, "since", "", `only show rows created after this time, e.g. "yesterday" or "3 days ago"`)

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(searchCmd)
}
