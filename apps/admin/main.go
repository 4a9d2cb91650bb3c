package main

import (
	"context"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/mpkschool/backend/core"
	"github.com/mpkschool/backend/core/auth"
	"github.com/mpkschool/backend/core/user"
	logsvc "github.com/mpkschool/backend/services/logger"
	"github.com/mpkschool/backend/storage"
	"github.com/mpkschool/backend/storage/database"
)

func main() {
	conf := core.NewConfig()
	logger := logsvc.NewLogger("ADMIN : ", conf)
	ctx := context.Background()

	cli := commandLine{
		tokens:   auth.NewTokenIssuer(conf),
		validate: validator.New(),
	}
	translator := core.NewTranslator()
	core.InitValidators(cli.validate, translator)
	user.InitValidators(cli.validate, translator)

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		// open the database without migrating it up
		if conf.Storage.Engine == core.EnginePostgres {
			errAndDie(logger, database.CreateIfNotExist(ctx, conf))
			db, err := database.Open(conf)
			errAndDie(logger, err)
			defer db.Close()
			errAndDie(logger, database.Ping(ctx, db))
			cli.db = db.DB
		}
	} else {
		store, err := storage.Open(ctx, conf, logger)
		errAndDie(logger, err)
		defer func() { _ = store.Close(ctx) }()
		cli.usrSvc = user.NewService(store.Users)
	}

	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Error(fmt.Sprintf("\nerror: %s\n", err), err)
		}
		os.Exit(1)
	}
}

func errAndDie(logger core.Logger, err error) {
	if err != nil {
		logger.Fatal(err.Error(), err)
	}
}
