package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jayanth920/taskfront/domain"
)

func newAddCmd(app *App) *cobra.Command {
	var boardFlag, groupFlag, descFlag string

	cmd := &cobra.Command{
		Use:   "add TITLE...",
		Short: "Create a task at the tail of a group",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := app.boardID(boardFlag)
			if err != nil {
				return err
			}
			group, err := parseGroup(groupFlag)
			if err != nil {
				return err
			}
			_, disp, err := app.openBoard(cmd.Context(), id)
			if err != nil {
				return err
			}

			task, err := disp.Create(cmd.Context(), domain.TaskDraft{
				Title:       strings.Join(args, " "),
				Description: descFlag,
				Group:       group,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %q to %s (%s)\n", task.Title, task.Group, task.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&boardFlag, "board", "", "Board ID")
	cmd.Flags().StringVar(&groupFlag, "group", "todo", "Target group")
	cmd.Flags().StringVar(&descFlag, "desc", "", "Task description")
	return cmd
}

func newMoveCmd(app *App) *cobra.Command {
	var boardFlag, toFlag string
	var indexFlag int

	cmd := &cobra.Command{
		Use:   "move ID",
		Short: "Move a task to a group and position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := app.boardID(boardFlag)
			if err != nil {
				return err
			}
			group, err := parseGroup(toFlag)
			if err != nil {
				return err
			}
			store, disp, err := app.openBoard(cmd.Context(), id)
			if err != nil {
				return err
			}

			if indexFlag < 0 {
				err = disp.MoveToGroupEnd(cmd.Context(), args[0], group)
			} else {
				err = disp.Move(cmd.Context(), args[0], group, indexFlag)
			}
			if err != nil {
				return err
			}

			moved, ok := store.Get(args[0])
			if !ok {
				return fmt.Errorf("task %s vanished after move", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Moved %q to %s position %d\n", moved.Title, moved.Group, moved.Order)
			return nil
		},
	}

	cmd.Flags().StringVar(&boardFlag, "board", "", "Board ID")
	cmd.Flags().StringVar(&toFlag, "to", "", "Target group")
	cmd.Flags().IntVar(&indexFlag, "index", -1, "Position in the target group, default is the tail")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newRenameCmd(app *App) *cobra.Command {
	var boardFlag string

	cmd := &cobra.Command{
		Use:   "rename ID TITLE...",
		Short: "Retitle a task",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := app.boardID(boardFlag)
			if err != nil {
				return err
			}
			_, disp, err := app.openBoard(cmd.Context(), id)
			if err != nil {
				return err
			}
			title := strings.Join(args[1:], " ")
			if err := disp.Rename(cmd.Context(), args[0], title); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s to %q\n", args[0], title)
			return nil
		},
	}

	cmd.Flags().StringVar(&boardFlag, "board", "", "Board ID")
	return cmd
}

func newDoneCmd(app *App) *cobra.Command {
	var boardFlag string

	cmd := &cobra.Command{
		Use:   "done ID",
		Short: "Move a task to the end of done",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := app.boardID(boardFlag)
			if err != nil {
				return err
			}
			_, disp, err := app.openBoard(cmd.Context(), id)
			if err != nil {
				return err
			}
			if err := disp.MoveToGroupEnd(cmd.Context(), args[0], domain.GroupDone); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Done: %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&boardFlag, "board", "", "Board ID")
	return cmd
}

func newRemoveCmd(app *App) *cobra.Command {
	var boardFlag string

	cmd := &cobra.Command{
		Use:   "rm ID",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := app.boardID(boardFlag)
			if err != nil {
				return err
			}
			_, disp, err := app.openBoard(cmd.Context(), id)
			if err != nil {
				return err
			}
			if err := disp.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&boardFlag, "board", "", "Board ID")
	return cmd
}
