// Command inspect dumps the store of the local provider: users, channels and
// channel history.
package main

import (
	"chat-relay/repositories"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
)

const defaultPath = "./data/badger"

func main() {
	dbPath := flag.String("db", defaultPath, "Path to badger DB")
	kind := flag.String("kind", "messages", "What to dump: users, channels or messages")
	cid := flag.String("cid", "", "Restrict messages to one channel (type:id)")
	flag.Parse()

	db, err := openDB(*dbPath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	table := newTable()
	switch *kind {
	case "users":
		err = dumpUsers(db, table)
	case "channels":
		err = dumpChannels(db, table)
	case "messages":
		err = dumpMessages(db, table, *cid)
	default:
		log.Fatalf("unknown kind %q", *kind)
	}
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(color.New(color.BgBlack, color.FgGreen).Render(" " + strings.ToUpper(*kind) + " "))
	table.Render()
}

func newTable() *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
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

func dumpUsers(db *badger.DB, table *tablewriter.Table) error {
	table.SetHeader([]string{"ID", "Name", "Role", "Updated"})
	return repositories.Scan(db, repositories.UserPrefix, func(key string, value []byte) error {
		var u repositories.User
		if err := json.Unmarshal(value, &u); err != nil {
			fmt.Printf("Error decoding key %s: %v\n", key, err)
			return nil
		}
		table.Append([]string{u.ID, u.Name, u.Role, u.UpdatedAt.Format(time.DateTime)})
		return nil
	})
}

func dumpChannels(db *badger.DB, table *tablewriter.Table) error {
	table.SetHeader([]string{"CID", "Created By", "Members", "Created"})
	return repositories.Scan(db, repositories.ChannelPrefix, func(key string, value []byte) error {
		var c repositories.Channel
		if err := json.Unmarshal(value, &c); err != nil {
			fmt.Printf("Error decoding key %s: %v\n", key, err)
			return nil
		}
		table.Append([]string{c.CID, c.CreatedBy, strings.Join(c.Members, ","), c.CreatedAt.Format(time.DateTime)})
		return nil
	})
}

func dumpMessages(db *badger.DB, table *tablewriter.Table, cid string) error {
	prefix := repositories.MessagePrefix
	if cid != "" {
		prefix = repositories.MessagePrefixFor(cid)
	}
	table.SetHeader([]string{"At", "CID", "ID", "Payload"})
	return repositories.Scan(db, prefix, func(key string, value []byte) error {
		var m repositories.DiskMessage
		if err := json.Unmarshal(value, &m); err != nil {
			fmt.Printf("Error decoding key %s: %v\n", key, err)
			return nil
		}
		table.Append([]string{m.At.Format("15:04:05"), m.ChannelCID, shorten(m.ID, 8), shorten(string(m.Payload), 80)})
		return nil
	})
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true)
	return badger.Open(opts)
}
