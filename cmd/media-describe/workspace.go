package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/fpang/media-describe/internal/workspace"
)

var workspaceCmd = &cobra.Command{
	Use:   "workspace",
	Short: "Inspect and edit a workspace document",
}

var workspaceShowCmd = &cobra.Command{
	Use:   "show <workspace>",
	Short: "List a workspace's items and their descriptions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := workspace.Load(args[0])
		if err != nil {
			return err
		}
		cmd.Printf("version %s, %d items\n", ws.Version, ws.Len())
		for _, item := range ws.Items() {
			mark := " "
			if item.BatchMarked {
				mark = "*"
			}
			cmd.Printf("%s %-7s %s\n", mark, item.ItemType, item.FilePath)
			for _, d := range item.Descriptions {
				cmd.Printf("    [%s/%s/%s] %s\n", d.Provider, d.Model, d.PromptStyle, firstLine(d.Text))
			}
		}
		return nil
	},
}

var workspaceMarkCmd = &cobra.Command{
	Use:   "mark <workspace> <path>...",
	Short: "Mark items for batch description",
	Args:  cobra.MinimumNArgs(2),
	RunE:  func(cmd *cobra.Command, args []string) error { return setMarks(args, true) },
}

var workspaceUnmarkCmd = &cobra.Command{
	Use:   "unmark <workspace> <path>...",
	Short: "Clear items' batch marks",
	Args:  cobra.MinimumNArgs(2),
	RunE:  func(cmd *cobra.Command, args []string) error { return setMarks(args, false) },
}

func init() {
	workspaceCmd.AddCommand(workspaceShowCmd, workspaceMarkCmd, workspaceUnmarkCmd)
}

func setMarks(args []string, marked bool) error {
	ws, err := workspace.Load(args[0])
	if err != nil {
		return err
	}
	for _, path := range args[1:] {
		if err := ws.SetBatchMark(path, marked); err != nil {
			return err
		}
	}
	if ws.Modified() {
		return ws.Save(args[0])
	}
	return nil
}

func firstLine(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	if len(text) > 100 {
		return text[:100] + "..."
	}
	return text
}
