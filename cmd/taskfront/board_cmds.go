package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newBoardsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "boards",
		Short: "List the boards you can reach",
		RunE: func(cmd *cobra.Command, args []string) error {
			boards, err := app.API.ListBoards(cmd.Context())
			if err != nil {
				return err
			}
			if len(boards) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No boards found.")
				return nil
			}
			for _, b := range boards {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", b.ID, b.Name)
			}
			return nil
		},
	}
}

func newTasksCmd(app *App) *cobra.Command {
	var boardFlag string

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Show the board grouped by stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := app.boardID(boardFlag)
			if err != nil {
				return err
			}
			store, _, err := app.openBoard(cmd.Context(), id)
			if err != nil {
				return err
			}
			renderBoard(cmd.OutOrStdout(), store.Snapshot())
			return nil
		},
	}

	cmd.Flags().StringVar(&boardFlag, "board", "", "Board ID")
	return cmd
}
