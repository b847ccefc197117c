package bourse

import (
	"github.com/btcsuite/btclog"
	"github.com/lightningnetwork/lnd/build"

	"github.com/bourse-exchange/bourse/account"
	"github.com/bourse-exchange/bourse/connreg"
	"github.com/bourse-exchange/bourse/exchange"
	"github.com/bourse-exchange/bourse/sighandler"
	"github.com/bourse-exchange/bourse/trader"
)

const Subsystem = "SRVR"

var (
	logWriter = build.NewRotatingLogWriter()
	log       = build.NewSubLogger(Subsystem, logWriter.GenSubLogger)

	// SupportedSubsystems is a function that returns a list of all
	// supported logging sub systems.
	SupportedSubsystems = logWriter.SupportedSubsystems
)

func init() {
	setSubLogger(Subsystem, log, nil)
	addSubLogger(account.Subsystem, account.UseLogger)
	addSubLogger(trader.Subsystem, trader.UseLogger)
	addSubLogger(connreg.Subsystem, connreg.UseLogger)
	addSubLogger(exchange.Subsystem, exchange.UseLogger)
	addSubLogger(sighandler.Subsystem, sighandler.UseLogger)
}

// addSubLogger is a helper method to conveniently create and register the
// logger of a sub system.
func addSubLogger(subsystem string, useLogger func(btclog.Logger)) {
	logger := build.NewSubLogger(subsystem, logWriter.GenSubLogger)
	setSubLogger(subsystem, logger, useLogger)
}

// setSubLogger is a helper method to conveniently register the logger of a sub
// system.
func setSubLogger(subsystem string, logger btclog.Logger,
	useLogger func(btclog.Logger)) {

	logWriter.RegisterSubLogger(subsystem, logger)
	if useLogger != nil {
		useLogger(logger)
	}
}
