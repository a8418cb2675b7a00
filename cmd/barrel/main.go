// Command barrel is a thin command-line front end over a barreldb store:
// one put/get/delete per invocation against a data directory.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/arfanq/barreldb/internal/store"
	"github.com/arfanq/barreldb/pkg/logger"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  barrel -path <data-dir> put <key> <value>")
	fmt.Fprintln(os.Stderr, "  barrel -path <data-dir> get <key>")
	fmt.Fprintln(os.Stderr, "  barrel -path <data-dir> delete <key>")
	os.Exit(1)
}

func main() {
	var dbPath = flag.String("path", "", "path to data directory")
	flag.Parse()

	if *dbPath == "" || flag.NArg() < 1 {
		usage()
	}

	log, err := logger.New("barrel")
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}

	s, err := store.Open(*dbPath, store.WithLogger(log))
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		os.Exit(1)
	}
	defer s.Close()

	args := flag.Args()
	switch args[0] {
	case "put":
		if len(args) != 3 {
			usage()
		}
		if err := s.Put(args[1], []byte(args[2])); err != nil {
			fmt.Fprintf(os.Stderr, "put: %v\n", err)
			os.Exit(1)
		}
	case "get":
		if len(args) != 2 {
			usage()
		}
		val, ok, err := s.Get(args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "get: %v\n", err)
			os.Exit(1)
		}
		if !ok {
			fmt.Println("(not found)")
			return
		}
		fmt.Println(string(val))
	case "delete":
		if len(args) != 2 {
			usage()
		}
		if err := s.Delete(args[1]); err != nil {
			fmt.Fprintf(os.Stderr, "delete: %v\n", err)
			os.Exit(1)
		}
	default:
		usage()
	}
}
