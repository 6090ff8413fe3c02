package main

import (
	"context"
	"distbank/internal/bank"
	"distbank/internal/node"
	"distbank/internal/utils/ioUtils"
	"log"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	conf, err := node.NewConfig(os.Args[1:])
	if err != nil {
		log.Fatal("Failed to create process config: ", err)
	}

	n, err := node.New(conf)
	if err != nil {
		log.Fatal("Failed to start process: ", err)
	}
	defer n.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	app := bank.NewApp(n.Logger().WithPostfix("app"), ioutils.NewStdStream(), n, bank.Config{
		Iterations:    conf.Iterations,
		Interval:      conf.Interval,
		Amount:        conf.Amount,
		Interactive:   conf.Interactive,
		PrintInterval: conf.PrintInterval,
	})
	if err := app.Run(ctx); err != nil {
		n.Logger().Error("Run stopped: ", err)
		log.Print("Run stopped: ", err)
	}
}
