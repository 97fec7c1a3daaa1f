// Command ironbasesh is a line-edited interactive shell over an IronBase
// database, consuming only the public ironbase.Database/Collection API
// ("CLI front-ends... consume only the collection/transaction
// contracts"). Grounded on cmd/docdbsh for the "one open
// database per shell session, dispatch lines to handlers" shape, with
// its bufio/flag-based line loop replaced by github.com/peterh/liner
// (named in docdb's own go.mod) for history and line editing, and
// its ad-hoc flag parsing replaced by github.com/spf13/cobra subcommands.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/petitan/ironbase"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ironbasesh: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ironbasesh <path>",
	Short: "Interactive shell over an IronBase database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runShell(args[0])
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats <path>",
	Short: "Print database statistics and exit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := ironbase.Open(args[0], ironbase.Options{})
		if err != nil {
			return err
		}
		defer db.Close()
		s := db.Stats()
		fmt.Printf("collections: %d\n", s.Collections)
		fmt.Printf("total documents: %d\n", s.TotalDocs)
		fmt.Printf("wal size: %d bytes\n", s.WALSizeBytes)
		for name, n := range s.PerCollection {
			fmt.Printf("  %s: %d\n", name, n)
		}
		return nil
	},
}

var compactCmd = &cobra.Command{
	Use:   "compact <path>",
	Short: "Compact every collection's storage log and exit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := ironbase.Open(args[0], ironbase.Options{})
		if err != nil {
			return err
		}
		defer db.Close()
		return db.Compact()
	},
}

func init() {
	rootCmd.AddCommand(statsCmd, compactCmd)
}

// runShell drives the interactive REPL: each line is either ".command"
// (meta: .stats, .compact, .collections, .quit) or "<collection>
// <op> <json>", e.g. "users find {\"name\":\"Bob\"}".
func runShell(path string) error {
	db, err := ironbase.Open(path, ironbase.Options{})
	if err != nil {
		return err
	}
	defer db.Close()

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	fmt.Printf("ironbase shell — %s (Ctrl-D to exit)\n", path)
	for {
		input, err := line.Prompt("ironbase> ")
		if err != nil {
			fmt.Println()
			return nil
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if err := dispatch(db, input); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

func dispatch(db *ironbase.Database, input string) error {
	switch input {
	case ".quit", ".exit":
		os.Exit(0)
	case ".collections":
		for _, name := range db.ListCollections() {
			fmt.Println(name)
		}
		return nil
	case ".stats":
		s := db.Stats()
		fmt.Printf("%+v\n", s)
		return nil
	case ".compact":
		return db.Compact()
	case ".flush":
		return db.Flush()
	}

	fields := strings.SplitN(input, " ", 3)
	if len(fields) < 2 {
		return fmt.Errorf("usage: <collection> <find|insert|count|delete> [json]")
	}
	col, err := db.Collection(fields[0])
	if err != nil {
		return err
	}
	op := fields[1]
	var payload map[string]interface{}
	if len(fields) == 3 {
		if err := json.Unmarshal([]byte(fields[2]), &payload); err != nil {
			return fmt.Errorf("invalid json argument: %w", err)
		}
	}

	ctx := context.Background()
	switch op {
	case "find":
		docs, explain, err := col.Find(payload, ironbase.FindOptions{})
		if err != nil {
			return err
		}
		fmt.Printf("plan: %s (%s)\n", explain.Kind, explain.Reason)
		for _, d := range docs {
			printDoc(d)
		}
	case "insert":
		id, err := col.InsertOne(ctx, payload)
		if err != nil {
			return err
		}
		fmt.Printf("inserted id %d\n", id)
	case "count":
		n, err := col.Count(payload)
		if err != nil {
			return err
		}
		fmt.Println(n)
	case "delete":
		ok, err := col.DeleteOne(ctx, payload)
		if err != nil {
			return err
		}
		fmt.Println(ok)
	default:
		return fmt.Errorf("unknown operation %q", op)
	}
	return nil
}

func printDoc(doc map[string]interface{}) {
	b, err := json.Marshal(doc)
	if err != nil {
		fmt.Printf("%v\n", doc)
		return
	}
	fmt.Println(string(b))
}
