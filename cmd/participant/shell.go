package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"golang.org/x/exp/slices"

	"github.com/dreamware/relay/internal/cluster"
	"github.com/dreamware/relay/internal/participant"
)

var errEmpty = errors.New("empty command")

var commandNames = []string{
	"register", "deregister", "disconnect", "reconnect", "msend", "members", "quit", "help",
}

const helpText = `register <port>     join the group, receiving on port (0 picks one)
deregister          leave the group (disconnect first)
disconnect          go offline; broadcasts are buffered
reconnect <port>    come back online and receive buffered broadcasts
msend <text...>     broadcast text to the group
members             list the group (needs admin_addr)
quit                exit (disconnect first)`

type command struct {
	name string
	text string
	port int
}

// parseCommand splits a shell line into a command name and its argument.
func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{}, errEmpty
	}

	name, rest, _ := strings.Cut(line, " ")
	name = strings.ToLower(name)
	rest = strings.TrimSpace(rest)
	if !slices.Contains(commandNames, name) {
		return command{}, fmt.Errorf("invalid command %q (try help)", name)
	}

	cmd := command{name: name}
	switch name {
	case "register", "reconnect":
		if rest == "" {
			return command{}, fmt.Errorf("%s needs a port", name)
		}
		port, err := strconv.Atoi(rest)
		if err != nil || port < 0 || port > 65535 {
			return command{}, fmt.Errorf("%s: invalid port %q", name, rest)
		}
		cmd.port = port
	case "msend":
		if rest == "" {
			return command{}, errors.New("msend needs a message")
		}
		cmd.text = rest
	}
	return cmd, nil
}

type shell struct {
	session   *participant.Session
	adminAddr string
}

// execute runs cmd and returns the line to show the user.
func (s *shell) execute(ctx context.Context, cmd command) (reply string, quit bool, err error) {
	switch cmd.name {
	case "register":
		if err := s.session.Register(ctx, cmd.port); err != nil {
			return "", false, fmt.Errorf("you were not able to register to the multicast group: %w", err)
		}
		return fmt.Sprintf("You are now registered and connected to the multicast group (receiving on port %d)", s.session.DeliveryPort()), false, nil

	case "deregister":
		if err := s.session.Deregister(ctx); err != nil {
			return "", false, fmt.Errorf("you were not able to deregister from the multicast group: %w", err)
		}
		return "You are now deregistered from the multicast group", false, nil

	case "disconnect":
		if err := s.session.Disconnect(ctx); err != nil {
			return "", false, fmt.Errorf("you were not able to disconnect from the multicast group: %w", err)
		}
		return "You are now disconnected from the multicast group", false, nil

	case "reconnect":
		if err := s.session.Reconnect(ctx, cmd.port); err != nil {
			return "", false, fmt.Errorf("you were not able to reconnect to the multicast group: %w", err)
		}
		return "You are now reconnected to the multicast group, missed messages will follow", false, nil

	case "msend":
		if err := s.session.MSend(ctx, cmd.text); err != nil {
			return "", false, fmt.Errorf("message was not sent to the multicast group: %w", err)
		}
		return "Message sent to multicast group successfully", false, nil

	case "members":
		return s.members(ctx)

	case "quit":
		if err := s.session.CanQuit(); err != nil {
			return "", false, err
		}
		return "Thank you for using this persistent and asynchronous multicast", true, nil

	case "help":
		return helpText, false, nil
	}
	return "", false, fmt.Errorf("invalid command %q", cmd.name)
}

func (s *shell) members(ctx context.Context) (string, bool, error) {
	if s.adminAddr == "" {
		return "", false, errors.New("members needs admin_addr in the config or RELAY_ADMIN_ADDR")
	}
	list, err := cluster.ListParticipants(ctx, s.adminAddr)
	if err != nil {
		return "", false, err
	}
	if len(list) == 0 {
		return "No participants registered", false, nil
	}

	data := pterm.TableData{{"PID", "ADDRESS", "STATE", "PENDING"}}
	for _, p := range list {
		data = append(data, []string{
			strconv.Itoa(int(p.PID)),
			p.DeliveryAddr(),
			string(p.State),
			strconv.Itoa(p.Pending),
		})
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return "", false, err
	}
	return "\n" + table, false, nil
}
