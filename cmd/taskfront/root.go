package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jayanth920/taskfront/board"
	"github.com/jayanth920/taskfront/domain"
	"github.com/jayanth920/taskfront/rest"
)

// App carries the shared dependencies of every subcommand.
type App struct {
	Server string
	Token  string
	Board  string

	API    *rest.Client
	Logger *log.Logger
}

func newRootCmd(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:           "taskfront",
		Short:         "Client for a shared, ordered task board",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newBoardsCmd(app),
		newTasksCmd(app),
		newAddCmd(app),
		newMoveCmd(app),
		newRenameCmd(app),
		newDoneCmd(app),
		newRemoveCmd(app),
		newWatchCmd(app),
	)

	return root
}

func (a *App) boardID(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if a.Board != "" {
		return a.Board, nil
	}
	return "", fmt.Errorf("no board selected, pass --board or set TASKFRONT_BOARD")
}

// openBoard loads the board into a fresh store and returns a dispatcher
// that mutates it over REST.
func (a *App) openBoard(ctx context.Context, boardID string) (*board.Store, *board.Dispatcher, error) {
	store := board.NewStore(boardID, a.Logger)
	disp := board.NewDispatcher(store, a.API, nil, a.Logger)
	if err := disp.Refresh(ctx); err != nil {
		return nil, nil, err
	}
	return store, disp, nil
}

func parseGroup(s string) (domain.Group, error) {
	g := domain.Group(strings.ToLower(strings.TrimSpace(s)))
	if !g.Valid() {
		return "", fmt.Errorf("unknown group %q, expected one of %s", s, groupNames())
	}
	return g, nil
}

func groupNames() string {
	names := make([]string, 0, len(domain.Groups()))
	for _, g := range domain.Groups() {
		names = append(names, string(g))
	}
	return strings.Join(names, ", ")
}

func renderBoard(w io.Writer, tasks []domain.Task) {
	grouped := domain.GroupBy(tasks)
	for _, g := range domain.Groups() {
		fmt.Fprintf(w, "%s\n", strings.ToUpper(string(g)))
		if len(grouped[g]) == 0 {
			fmt.Fprintln(w, "  (empty)")
			continue
		}
		for _, task := range grouped[g] {
			fmt.Fprintf(w, "  %2d. %s  [%s]\n", task.Order, task.Title, task.ID)
		}
	}
}
