// Command bourse runs the exchange server described by the bourse
// package: a TCP listener that accepts client connections, authenticates
// them, and matches their buy and sell orders.
package main

import (
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/bourse-exchange/bourse"
	"github.com/bourse-exchange/bourse/sighandler"
)

type config struct {
	Port uint16 `short:"p" long:"port" description:"TCP port to listen on" default:"12345"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config{}
	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			return nil
		}
		return err
	}

	srv := bourse.NewServer(bourse.Config{
		ListenAddr: fmt.Sprintf(":%d", cfg.Port),
	})
	if err := srv.Start(); err != nil {
		return fmt.Errorf("unable to start server: %v", err)
	}

	sh := sighandler.New()
	if err := sh.Start(); err != nil {
		return fmt.Errorf("unable to start signal handler: %v", err)
	}

	<-sh.ShutdownChannel()

	if err := srv.Stop(); err != nil {
		return fmt.Errorf("error during shutdown: %v", err)
	}

	return sh.Stop()
}
