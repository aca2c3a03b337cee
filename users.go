package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zahareus/telegram-transcriber-bot/access"
	"github.com/zahareus/telegram-transcriber-bot/config"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List access requests in a table",
	Run:   runUsers,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the schema of the configured store",
	Run:   runMigrate,
}

func init() {
	usersCmd.Flags().String("state", "", "Only show pending, approved or rejected")
}

func runUsers(cmd *cobra.Command, args []string) {
	cfg := config.Load(viper.GetViper())
	l := createLoggers(cfg.Level())

	var only access.State
	if s, _ := cmd.Flags().GetString("state"); s != "" {
		st, err := access.ParseState(s)
		if err != nil {
			l.main.Fatal("state filter", "error", err)
		}
		only = st
	}

	ctx := context.Background()
	store, closeStore, err := openStore(ctx, cfg, l.data)
	if err != nil {
		l.main.Fatal("open store", "error", err)
	}
	defer closeStore()

	records, err := store.List(ctx)
	if err != nil {
		l.main.Fatal("list records", "error", err)
	}
	if only != "" {
		records = filterState(records, only)
	}

	if len(records) == 0 {
		fmt.Println("No access requests found.")
		return
	}
	renderUsers(os.Stdout, records)
}

func filterState(records []access.Record, s access.State) []access.Record {
	var out []access.Record
	for _, r := range records {
		if r.State == s {
			out = append(out, r)
		}
	}
	return out
}

func renderUsers(w io.Writer, records []access.Record) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "State", "Name", "Username", "Requested", "Decided"})
	table.SetBorder(false)
	table.SetCenterSeparator("|")
	table.SetColumnSeparator("|")
	table.SetRowSeparator("-")
	table.SetAutoWrapText(false)

	for _, r := range records {
		table.Append([]string{
			r.Identity.String(),
			string(r.State),
			r.Profile.DisplayName(),
			r.Profile.Handle(),
			formatTime(r.RequestedAt),
			formatTime(r.DecidedAt),
		})
	}
	table.Render()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// runMigrate only needs to open the store: the sqlite and postgres openers
// apply pending migrations as they connect.
func runMigrate(cmd *cobra.Command, args []string) {
	cfg := config.Load(viper.GetViper())
	l := createLoggers(cfg.Level())

	switch cfg.Store {
	case config.StoreSQLite, config.StorePostgres:
	default:
		l.main.Info("nothing to migrate", "store", cfg.Store)
		return
	}

	_, closeStore, err := openStore(context.Background(), cfg, l.data)
	if err != nil {
		l.main.Fatal("migrate", "error", err)
	}
	closeStore()
	l.main.Info("schema up to date", "store", cfg.Store)
}
