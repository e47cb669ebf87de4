// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Command sortstat drives the external-merge sorter and the ANALYZE
// statistics engine over flat tab-separated input: "build" sorts
// rows into a durable index artifact, "analyze" computes stat1/stat4
// rows from one.
package main

import (
	"flag"
	"fmt"
	"os"
)

var (
	dashv bool
	dashc string
)

func init() {
	flag.BoolVar(&dashv, "v", false, "verbose")
	flag.StringVar(&dashc, "c", "sortstat.yaml", "config file path")
}

func exitf(f string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, f, args...)
	if len(f) == 0 || f[len(f)-1] != '\n' {
		fmt.Fprintln(os.Stderr)
	}
	os.Exit(1)
}

func logf(f string, args ...interface{}) {
	if len(f) == 0 || f[len(f)-1] != '\n' {
		f += "\n"
	}
	fmt.Fprintf(os.Stderr, f, args...)
}

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintf(os.Stderr, "usage:\n")
		fmt.Fprintf(os.Stderr, "    %s [-c sortstat.yaml] build <table> <index> <input.tsv> <output.idx>\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "        sort input.tsv into a durable index artifact\n")
		fmt.Fprintf(os.Stderr, "    %s [-c sortstat.yaml] analyze <table> <index> <output.idx>\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "        run ANALYZE over a build artifact and print stat1/stat4 rows\n")
		fmt.Fprintf(os.Stderr, "flag usage:\n")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := loadConfig(dashc)
	if err != nil {
		exitf("%s", err)
	}

	switch args[0] {
	case "build":
		if len(args) != 5 {
			exitf("usage: build <table> <index> <input.tsv> <output.idx>")
		}
		idx, err := cfg.indexFor(args[1], args[2])
		if err != nil {
			exitf("%s", err)
		}
		if err := build(cfg, idx, args[3], args[4]); err != nil {
			exitf("build: %s", err)
		}
	case "analyze":
		if len(args) != 4 {
			exitf("usage: analyze <table> <index> <output.idx>")
		}
		idx, err := cfg.indexFor(args[1], args[2])
		if err != nil {
			exitf("%s", err)
		}
		if err := analyzeIndexFile(cfg, idx, args[3]); err != nil {
			exitf("analyze: %s", err)
		}
	default:
		exitf("unknown subcommand %q", args[0])
	}
}
