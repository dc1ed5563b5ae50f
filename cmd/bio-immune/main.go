package main

/*
bio-immune identifies V(D)J rearrangements of immunoglobulin heavy chain
reads, stores them in a SQLite database and groups them into clones.

	bio-immune identify -v-germlines v.fasta -j-germlines j.fasta dir...
	bio-immune clones
	bio-immune stats
	bio-immune lookup SEQUENCE
	bio-immune ties -j-germlines j.fasta GENE LENGTH

The database is given by -db or the IMMUNE_DB environment variable, which may
be set in a .env file of the working directory.
*/

import (
	"context"
	"fmt"
	"os"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/immune/store"
	"github.com/joho/godotenv"
	"v.io/x/lib/cmdline"
)

// DBEnv names the environment variable holding the database path.
const DBEnv = "IMMUNE_DB"

// dbFlag registers the -db flag on cmd.
func dbFlag(cmd *cmdline.Command) *string {
	return cmd.Flags.String("db", "", "SQLite database path; defaults to $"+DBEnv)
}

func openDB(ctx context.Context, path string) (*store.DB, error) {
	if path == "" {
		path = os.Getenv(DBEnv)
	}
	if path == "" {
		return nil, fmt.Errorf("no database: set -db or $%s", DBEnv)
	}
	return store.Open(ctx, path)
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug.Printf("no .env file loaded: %v", err)
	}
	shutdown := grail.Init()
	cmdline.HideGlobalFlagsExcept()
	root := &cmdline.Command{
		Name:     "bio-immune",
		Short:    "Identify immunoglobulin V(D)J rearrangements",
		LookPath: false,
		Children: []*cmdline.Command{
			newCmdIdentify(),
			newCmdClones(),
			newCmdStats(),
			newCmdLookup(),
			newCmdTies(),
		},
	}
	err := cmdline.ParseAndRun(root, cmdline.EnvFromOS(), os.Args[1:])
	shutdown()
	if err != nil {
		os.Exit(cmdline.ExitCode(err, os.Stderr))
	}
}
