package main

import (
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	colorPass = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	colorWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	colorFail = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	colorDim  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and system consistency status",
	RunE: func(cmd *cobra.Command, args []string) error {
		url := fmt.Sprintf("http://%s/v1/status", resolvedAddr())
		var report struct {
			Status    string `json:"status"`
			Databases map[string]any `json:"databases"`
			Consistency struct {
				Status string `json:"status"`
				Checks []struct {
					Name   string `json:"name"`
					OK     bool   `json:"ok"`
					Detail string `json:"detail"`
				} `json:"checks"`
			} `json:"consistency"`
		}
		if err := getJSON(url, &report); err != nil {
			return err
		}

		if flagJSON {
			out, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		}

		fmt.Println(renderStatusLine(report.Status))
		for _, chk := range report.Consistency.Checks {
			icon := colorPass.Render("✓")
			if !chk.OK {
				icon = colorFail.Render("✗")
			}
			line := fmt.Sprintf("  %s %s", icon, chk.Name)
			if chk.Detail != "" {
				line += colorDim.Render(" — " + chk.Detail)
			}
			fmt.Println(line)
		}
		return nil
	},
}

func renderStatusLine(status string) string {
	switch status {
	case "normal":
		return colorPass.Render("● normal")
	case "inconsistent":
		return colorWarn.Render("● inconsistent")
	case "read_only":
		return colorWarn.Render("● read_only")
	case "safe_mode":
		return colorFail.Render("● safe_mode")
	default:
		return status
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
