/*
Copyright (C) 2026  bookie contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Command bookieshell is a small operator REPL: list cached ledger
// descriptors, inspect the current mode, and trigger a manual checkpoint.
// It talks to a running bookie process, not to the storage directories
// directly, so it never competes with the bookie for file locks.
//
// Grounded on scm/prompt.go's readline-based REPL loop (same prompt/result
// color scheme, same oldline/continuation shape minus the Scheme parser,
// which this shell has no use for).
package main

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
)

const (
	newprompt    = "\033[32mbookie>\033[0m "
	resultprompt = "\033[31m=\033[0m "
)

// Client is the subset of bookie introspection/control operations the
// shell can invoke. main wires a real RPC/HTTP client in; commands in
// this file are intentionally decoupled from the transport.
type Client interface {
	Mode() (string, error)
	ListLedgers() ([]string, error)
	Checkpoint() error
	Fence(ledgerID uint64) error
}

func main() {
	addr := flag.String("addr", "localhost:3181", "bookie admin address")
	flag.Parse()

	client := newRPCClient(*addr)

	l, err := readline.NewEx(&readline.Config{
		Prompt:            newprompt,
		HistoryFile:       ".bookieshell-history.tmp",
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		panic(err)
	}
	defer l.Close()
	l.CaptureExitSignal()

	for {
		line, err := l.Readline()
		if err == readline.ErrInterrupt {
			continue
		} else if err == io.EOF {
			break
		} else if err != nil {
			panic(err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		runCommand(client, line)
	}
}

func runCommand(client Client, line string) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "mode":
		mode, err := client.Mode()
		printResult(mode, err)
	case "ledgers":
		ledgers, err := client.ListLedgers()
		if err != nil {
			printResult("", err)
			return
		}
		printResult(strings.Join(ledgers, "\n"), nil)
	case "checkpoint":
		err := client.Checkpoint()
		printResult("checkpoint requested", err)
	case "fence":
		if len(fields) != 2 {
			printResult("", fmt.Errorf("usage: fence <ledgerId>"))
			return
		}
		var id uint64
		if _, err := fmt.Sscanf(fields[1], "%d", &id); err != nil {
			printResult("", fmt.Errorf("bad ledger id %q", fields[1]))
			return
		}
		err := client.Fence(id)
		printResult(fmt.Sprintf("ledger %d fenced", id), err)
	case "help":
		printResult("commands: mode, ledgers, checkpoint, fence <ledgerId>, help", nil)
	default:
		printResult("", fmt.Errorf("unknown command %q (try 'help')", fields[0]))
	}
}

func printResult(s string, err error) {
	fmt.Print(resultprompt)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println(s)
}
