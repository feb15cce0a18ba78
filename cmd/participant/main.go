// Package main implements the relay participant: an interactive shell that
// joins a coordinator's group, sends broadcasts and records every broadcast
// it receives in a message log file.
//
// Architecture:
//
//	┌─────────────────────────────────────────┐
//	│              Participant                │
//	├─────────────────────────────────────────┤
//	│  Shell (stdin):                         │
//	│    register <port>    reconnect <port>  │
//	│    deregister         disconnect        │
//	│    msend <text...>    members    quit   │
//	├─────────────────────────────────────────┤
//	│  Session    - local state guards        │
//	│  Client     - request/ACK exchanges     │
//	│  Receiver   - delivery port, log file   │
//	└─────────────────────────────────────────┘
//
// Configuration is a single file argument, either the three-line form
//
//	<pid>
//	<log file>
//	<coordinator host> <coordinator port>
//
// or YAML with pid, log_file, coordinator_host, coordinator_port and an
// optional admin_addr used by the members command.
//
// Example usage:
//
//	./participant participant.conf
//	multicast_participant> register 9001
//	multicast_participant> msend hello everyone
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"

	"github.com/dreamware/relay/internal/config"
	"github.com/dreamware/relay/internal/logging"
	"github.com/dreamware/relay/internal/participant"
)

const prompt = "multicast_participant> "

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, in io.Reader) error {
	if len(args) != 1 {
		return errors.New("usage: participant <config-file>")
	}
	cfg, err := config.LoadParticipant(args[0])
	if err != nil {
		return err
	}

	level := cfg.LogLevel
	if level == "" {
		level = "warn"
	}
	logger, err := logging.NewConsole(level)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	client := participant.NewClient(cfg.CoordinatorAddr(), uint16(cfg.PID), 0)
	session := participant.NewSession(client, cfg.LogFile, func(d participant.Delivery) {
		pterm.Println()
		pterm.DefaultBasicText.Println(d.String())
		pterm.Print(prompt)
	}, logger)
	defer session.Close()

	sh := &shell{session: session, adminAddr: cfg.AdminAddr}

	pterm.Info.Println(fmt.Sprintf("Participant #%d, coordinator %s, log %s", cfg.PID, client.Addr(), cfg.LogFile))

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		pterm.Print(prompt)
		var line string
		select {
		case <-ctx.Done():
			pterm.Println()
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = l
		}

		cmd, err := parseCommand(line)
		if errors.Is(err, errEmpty) {
			continue
		}
		if err != nil {
			pterm.Error.Println(err)
			continue
		}

		reply, quit, err := sh.execute(ctx, cmd)
		switch {
		case errors.Is(err, participant.ErrState):
			pterm.Warning.Println(err)
		case err != nil:
			pterm.Error.Println(err)
		case reply != "":
			pterm.Success.Println(reply)
		}
		if quit {
			return nil
		}
	}
}
