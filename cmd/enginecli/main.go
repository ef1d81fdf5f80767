// cmd/enginecli/main.go
//
// enginecli - minimal command-line driver for the storage engine.
//
// Usage:
//
//	enginecli <database-path> put <bytes>
//	enginecli <database-path> get <uid>
//	enginecli <database-path> del <uid>
//
// Each invocation opens the database, runs one transaction, and
// closes it again; it exists to exercise Open/Begin/Insert/Read/
// Delete/Commit/Close end to end, not as a production client.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"

	"tur/pkg/engine"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintf(os.Stderr, "usage: %s <database-path> <put|get|del> [args]\n", os.Args[0])
		os.Exit(1)
	}

	path := os.Args[1]
	cmd := os.Args[2]
	args := os.Args[3:]

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	db, err := engine.Open(path, engine.Options{MemoryBytes: 16 << 20, Logger: log})
	if err != nil {
		fmt.Fprintf(os.Stderr, "open: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := run(db, cmd, args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func run(db *engine.Engine, cmd string, args []string) error {
	ctx := context.Background()

	tx, err := db.BeginContext(ctx, 0)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	switch cmd {
	case "put":
		if len(args) != 1 {
			return fmt.Errorf("put requires exactly one argument")
		}
		uid, err := tx.Insert(ctx, []byte(args[0]))
		if err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		fmt.Printf("uid=%d\n", uid)
		return nil

	case "get":
		if len(args) != 1 {
			return fmt.Errorf("get requires exactly one argument")
		}
		uid, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return err
		}
		data, err := tx.Read(ctx, uid)
		if err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		if data == nil {
			fmt.Println("<not found>")
			return nil
		}
		fmt.Printf("%s\n", data)
		return nil

	case "del":
		if len(args) != 1 {
			return fmt.Errorf("del requires exactly one argument")
		}
		uid, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return err
		}
		ok, err := tx.Delete(ctx, uid)
		if err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		fmt.Printf("deleted=%v\n", ok)
		return nil

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}
