package main

import (
	"dm-relay/domain/chat"
	"dm-relay/repositories"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/kelseyhightower/envconfig"
	"github.com/olekukonko/tablewriter"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

type Config struct {
	BadgerFilepath string `envconfig:"BADGER_FILEPATH" required:"true"`
	// INSPECT_COLOURS colours the header and the kind column
	Colours bool `envconfig:"INSPECT_COLOURS" default:"true"`
}

func main() {
	code, err := run(os.Args[1:], os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Inspect error: %v\n", err)
	}
	os.Exit(code)
}

// run lists the inbox of -user, or the log between -user and -with, or every message record.
func run(args []string, out io.Writer) (int, error) {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}

	flags := flag.NewFlagSet("inspect", flag.ContinueOnError)
	user := flags.String("user", "", "Owner of the inbox to list")
	with := flags.String("with", "", "Counterparty: list the conversation between -user and -with")
	if err := flags.Parse(args); err != nil {
		return exitConfig, err
	}
	if *with != "" && *user == "" {
		return exitConfig, fmt.Errorf("-with requires -user")
	}
	color.Enable = config.Colours

	db, err := openDB(config.BadgerFilepath)
	if err != nil {
		return exitRuntime, fmt.Errorf("error while opening Badger: %w", err)
	}
	defer db.Close()

	prefix := "msg:"
	switch {
	case *with != "":
		prefix = repositories.PairPrefix(chat.UserID(*user), chat.UserID(*with))
	case *user != "":
		prefix = repositories.InboxPrefix(chat.UserID(*user))
	}

	table := newTable(out)
	rows := 0
	err = repositories.Scan(db, prefix, func(record repositories.Record) error {
		rows++
		table.Append(toRow(record))
		return nil
	})
	if err != nil {
		return exitRuntime, err
	}

	color.Fprintf(out, "<cyan>%d record(s) under %q</>\n", rows, prefix)
	table.Render()
	return exitOK, nil
}

func newTable(out io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Key", "Kind", "Timestamp", "ID", "Sender", "Receiver", "Content"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}

func toRow(record repositories.Record) []string {
	kind := color.Green.Sprint(record.Kind)
	if record.Kind == repositories.KindConversation {
		kind = color.Yellow.Sprint(record.Kind)
	}
	msg := record.Message
	return []string{
		record.Key,
		kind,
		msg.CreatedAt.Format("2006-01-02 15:04:05"),
		fmt.Sprintf("%d", msg.ID),
		msg.SenderID.String(),
		msg.ReceiverID.String(),
		truncate(msg.Content, 60),
	}
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}

func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true)

	db, err := badger.Open(opts)
	if err != nil && strings.Contains(err.Error(), "Log truncate required") {
		// A crashed relay leaves a value log to truncate, which read-only mode refuses to do.
		repair, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil).WithBypassLockGuard(true))
		if err != nil {
			return nil, fmt.Errorf("repair failed: %w", err)
		}
		if err := repair.Close(); err != nil {
			return nil, fmt.Errorf("repair failed: %w", err)
		}
		return badger.Open(opts)
	}
	return db, err
}
