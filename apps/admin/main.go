package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/eloschool/backend/apps/shared"
	"github.com/eloschool/backend/core"
	"github.com/eloschool/backend/core/access"
	logsvc "github.com/eloschool/backend/services/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stderr, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(false)

	// set up backends
	backend, err := shared.NewBackend(context.Background(), conf, logger)
	if err != nil {
		logger.Error(fmt.Sprintf("setting up backends: %v", err), err)
		return 1
	}
	defer backend.Close()

	core.ParseEmailTemplates(logger)
	cli := commandLine{
		dir:      backend.Directory,
		requests: access.NewRequests(backend.Directory, backend.Connector, shared.NewMailService(conf, logger), conf.NotifyAddresses(), logger),
		deps:     backend.ControllerDeps(),
		tokens:   backend.DevTokens,
		out:      os.Stdout,
	}
	if backend.SQL != nil {
		cli.db = backend.SQL.DB
	}

	// start CLI
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Error(fmt.Sprintf("\nerror: %s\n", err), err)
		}
		return 1
	}
	return 0
}
