// Package main is the entry point for the resthub application
package main

import (
	"github.com/ethpandaops/resthub/cmd"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

func main() {
	cmd.Execute()
}
