// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Program esl is a command-line utility for driving a FreeSWITCH event socket.
package main

import (
	"os"
	"path/filepath"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
)

var flags struct {
	Config        string `flag:"config,Configuration file (YAML)"`
	LogLevel      string `flag:"log-level,Log level (overrides the configuration)"`
	LogPretty     bool   `flag:"log-pretty,Write human-readable log output"`
	Metrics       string `flag:"metrics,Serve metrics at this address (host:port)"`
	TraceEndpoint string `flag:"trace-endpoint,Export traces to this OTLP/HTTP collector (host:port)"`
}

func main() {
	root := &command.C{
		Name: filepath.Base(os.Args[0]),
		Usage: `[options] command [args...]
help [command]`,
		Help: `Utilities for driving a FreeSWITCH event socket.

Settings are read from the file named by --config, if any, and may be
overridden by the environment (ESL_ADDR, ESL_PASSWORD, ESL_LISTEN,
ESL_REDIS_ADDR, ESL_REDIS_DB, ESL_LOG_LEVEL) and then by flags.`,

		SetFlags: command.Flags(flax.MustBind, &flags),

		Commands: []*command.C{
			{
				Name:  "api",
				Usage: "<command> [args...]",
				Help:  "Run an API command and print its response.",
				Run:   runAPI,
			},
			{
				Name:  "events",
				Usage: "[event-name ...]",
				Help: `Subscribe to events and print them as they arrive.

With no arguments, all events are printed. Otherwise only the named events
are requested from the switch.`,
				SetFlags: command.Flags(flax.MustBind, &eventFlags),
				Run:      runEvents,
			},
			{
				Name:  "originate",
				Usage: "<dial-path> [name=value ...]",
				Help: `Originate a call and wait for it to be answered.

Each name=value argument sets a channel variable on the new leg. Once the
call is answered, the --play file is played, if set, and the call is hung up.`,
				SetFlags: command.Flags(flax.MustBind, &originateFlags),
				Run:      runOriginate,
			},
			{
				Name:  "ring",
				Usage: "[destination ...]",
				Help: `Ring a group of destinations and report which answered.

If no destinations are given, those of the configuration are used. The
balancing mode uses the balancer backend named by the configuration.`,
				SetFlags: command.Flags(flax.MustBind, &ringFlags),
				Run:      runRing,
			},
			{
				Name: "serve",
				Help: `Accept outbound event socket connections from the switch.

Each session is answered, plays the --prompt file if set, speaks back each
DTMF digit pressed, and hangs up after --hold or when the caller hangs up.`,
				SetFlags: command.Flags(flax.MustBind, &serveFlags),
				Run:      runServe,
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}
