package main

import (
	"fmt"
	"os"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/jayanth920/taskfront/rest"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := log.New()
	logger.SetOutput(os.Stderr)
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		logger.SetLevel(log.DebugLevel)
	}

	server := os.Getenv("TASKFRONT_SERVER")
	token := os.Getenv("TASKFRONT_TOKEN")
	if server == "" || token == "" {
		return fmt.Errorf("TASKFRONT_SERVER and TASKFRONT_TOKEN must be set")
	}

	api, err := rest.New(server, token, rest.Options{Logger: logger})
	if err != nil {
		return err
	}

	app := &App{
		Server: server,
		Token:  token,
		Board:  os.Getenv("TASKFRONT_BOARD"),
		API:    api,
		Logger: logger,
	}
	return newRootCmd(app).Execute()
}
