package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jayanth920/taskfront/board"
	"github.com/jayanth920/taskfront/channel"
)

func newWatchCmd(app *App) *cobra.Command {
	var (
		boardFlag string
		reconnect bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream live board updates until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := app.boardID(boardFlag)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store := board.NewStore(id, app.Logger)
			sess, err := channel.Dial(ctx, app.Server, id, channel.Options{
				Token:     app.Token,
				OnMessage: func(m channel.Message) { store.Apply(m) },
				OnStatus: func(st channel.Status) {
					fmt.Fprintf(cmd.ErrOrStderr(), "channel %s\n", st)
				},
				Reconnect: reconnect,
				Logger:    app.Logger,
			})
			if err != nil {
				return err
			}
			defer sess.Close()

			updates := store.Watch()
			defer store.Unwatch(updates)
			out := cmd.OutOrStdout()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-updates:
					renderBoard(out, store.Snapshot())
					fmt.Fprintln(out)
				}
			}
		},
	}

	cmd.Flags().StringVar(&boardFlag, "board", "", "Board ID")
	cmd.Flags().BoolVar(&reconnect, "reconnect", false, "Redial with backoff when the connection drops")
	return cmd
}
