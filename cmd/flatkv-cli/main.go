package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"unicode"

	"github.com/tkoivu/flatkv"
	"github.com/tkoivu/flatkv/memtable"
	"github.com/tkoivu/flatkv/table"
)

const version = "1.0.0"

func main() {
	flag.Usage = printUsage

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "stat":
		if err := statCommand(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "dump":
		if err := dumpCommand(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "get":
		if err := getCommand(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "put":
		if err := putCommand(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "del":
		if err := delCommand(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "verify":
		if err := verifyCommand(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "version":
		fmt.Printf("flatkv-cli version %s\n", version)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`flatkv-cli - Command line tool for inspecting flatkv databases

Usage:
  flatkv-cli <command> [options]

Commands:
  stat <db_path>                List tables with sizes and entry counts
  dump <db_path> <table_id>     Dump contents of one table
  get <db_path> <key>           Look up a key
  put <db_path> <key> <value>   Write a key
  del <db_path> <key>           Delete a key
  verify <db_path>              Verify database integrity
  version                       Show version information
  help                          Show this help message

Examples:
  flatkv-cli stat /path/to/database
  flatkv-cli dump /path/to/database 0
  flatkv-cli get /path/to/database user:42
  flatkv-cli verify /path/to/database

`)
}

func statCommand(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("stat command requires database path")
	}
	dbPath := args[0]

	count, err := loadTableCount(dbPath)
	if err != nil {
		return err
	}

	fmt.Printf("Database: %s\n", dbPath)
	fmt.Printf("Tables: %d\n", count)
	if count == 0 {
		return nil
	}
	fmt.Println()

	fmt.Printf("%-8s %-12s %-12s %-10s %-10s\n", "Table", "Index", "Data", "Entries", "Deletes")
	var totalIndex, totalData int64
	for seq := range count {
		ixInfo, err := os.Stat(filepath.Join(dbPath, table.IndexFileName(seq)))
		if err != nil {
			return fmt.Errorf("table %d: %v", seq, err)
		}
		dtInfo, err := os.Stat(filepath.Join(dbPath, table.DataFileName(seq)))
		if err != nil {
			return fmt.Errorf("table %d: %v", seq, err)
		}

		entries, deletes, err := countEntries(dbPath, seq)
		if err != nil {
			return fmt.Errorf("table %d: %v", seq, err)
		}

		totalIndex += ixInfo.Size()
		totalData += dtInfo.Size()
		fmt.Printf("%-8d %-12s %-12s %-10d %-10d\n",
			seq, formatBytes(uint64(ixInfo.Size())), formatBytes(uint64(dtInfo.Size())), entries, deletes)
	}
	fmt.Printf("\nTotal: index %s, data %s\n", formatBytes(uint64(totalIndex)), formatBytes(uint64(totalData)))
	return nil
}

func dumpCommand(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("dump command requires database path and table id")
	}
	dbPath := args[0]

	seq, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid table id: %s", args[1])
	}

	reader, err := table.NewReader(dbPath, seq)
	if err != nil {
		return fmt.Errorf("failed to open table: %v", err)
	}
	defer reader.Close()

	fmt.Printf("Table: %s\n", filepath.Join(dbPath, table.IndexFileName(seq)))
	fmt.Printf("Contents:\n\n")
	fmt.Printf("%-6s %-30s %-30s %-8s\n", "Index", "Key", "Value", "Type")
	fmt.Println("------------------------------------------------------------------------------")

	count := 0
	err = reader.Scan(func(key []byte, e memtable.Entry) error {
		count++
		entryType := "SET"
		if e.Tombstone {
			entryType = "DELETE"
		}
		fmt.Printf("%-6d %-30s %-30s %-8s\n", count, formatValue(key, 28), formatValue(e.Value, 28), entryType)
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan failed: %v", err)
	}
	fmt.Printf("\nTotal entries: %d\n", count)
	return nil
}

func getCommand(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("get command requires database path and key")
	}
	db, err := openDB(args[0])
	if err != nil {
		return err
	}
	defer db.Close()

	value, err := db.Get([]byte(args[1]))
	if err != nil {
		return err
	}
	fmt.Printf("%s\n", value)
	return nil
}

func putCommand(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("put command requires database path, key and value")
	}
	db, err := openDB(args[0])
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Put([]byte(args[1]), []byte(args[2])); err != nil {
		return err
	}
	return db.Close()
}

func delCommand(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("del command requires database path and key")
	}
	db, err := openDB(args[0])
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Delete([]byte(args[1])); err != nil {
		return err
	}
	return db.Close()
}

func verifyCommand(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("verify command requires database path")
	}
	dbPath := args[0]

	count, err := loadTableCount(dbPath)
	if err != nil {
		return err
	}
	fmt.Printf("Verifying database: %s (%d tables)\n", dbPath, count)

	problems := 0
	totalEntries := 0
	for seq := range count {
		entries, _, err := countEntries(dbPath, seq)
		if err != nil {
			fmt.Printf("  FAIL table %d: %v\n", seq, err)
			problems++
			continue
		}
		totalEntries += entries
		fmt.Printf("  OK table %d: %d entries\n", seq, entries)
	}

	// Table files past the recorded count are orphans from interrupted
	// flushes. Harmless, but worth reporting.
	for seq := count; ; seq++ {
		if _, err := os.Stat(filepath.Join(dbPath, table.IndexFileName(seq))); err != nil {
			break
		}
		fmt.Printf("  WARN orphaned table files for id %d (past metadata count)\n", seq)
	}

	if problems > 0 {
		return fmt.Errorf("%d of %d tables failed verification", problems, count)
	}
	fmt.Printf("Verification passed: %d entries across %d tables\n", totalEntries, count)
	return nil
}

// loadTableCount reads the METADATA record without taking the
// database lock, so inspection works while a writer has it open.
func loadTableCount(dbPath string) (uint64, error) {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return 0, fmt.Errorf("database directory does not exist: %s", dbPath)
	}
	return flatkv.NewManifest(dbPath, flatkv.DefaultLogger()).Load()
}

// countEntries linearly scans one table, decompressing every value, so
// it doubles as an integrity check.
func countEntries(dbPath string, seq uint64) (entries, deletes int, err error) {
	reader, err := table.NewReader(dbPath, seq)
	if err != nil {
		return 0, 0, err
	}
	defer reader.Close()

	err = reader.Scan(func(key []byte, e memtable.Entry) error {
		entries++
		if e.Tombstone {
			deletes++
		}
		return nil
	})
	return entries, deletes, err
}

func openDB(path string) (*flatkv.DB, error) {
	opts := flatkv.DefaultOptions()
	opts.Path = path
	opts.CreateIfMissing = false
	db, err := flatkv.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}
	return db, nil
}

func formatValue(b []byte, maxLen int) string {
	printable := true
	for _, r := range string(b) {
		if !unicode.IsPrint(r) {
			printable = false
			break
		}
	}
	s := string(b)
	if !printable {
		s = fmt.Sprintf("%x", b)
	}
	if len(s) > maxLen {
		return s[:maxLen-2] + ".."
	}
	return s
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGT"[exp])
}
