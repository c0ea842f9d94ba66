// Command badger_inspect dumps conversations and messages straight from a
// badger directory, read-only, without going through the engine.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/kelseyhightower/envconfig"
	"github.com/olekukonko/tablewriter"

	"dm-engine/repositories"
)

type inspectConfig struct {
	BadgerFilepath string `envconfig:"BADGER_FILEPATH" default:"./data/badger"`
}

func main() {
	var config inspectConfig
	if err := envconfig.Process("", &config); err != nil {
		log.Fatal("Config error: ", err)
	}

	dbPath := flag.String("db", config.BadgerFilepath, "Path to badger DB")
	pair := flag.String("pair", "", "Dump messages of one pair key instead of the chat list")
	flag.Parse()

	// BypassLockGuard allows opening while the engine holds the lock.
	opts := badger.DefaultOptions(*dbPath).
		WithReadOnly(true).
		WithBypassLockGuard(true).
		WithLoggingLevel(badger.ERROR)
	db, err := badger.Open(opts)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	if *pair != "" {
		dumpMessages(db, *pair)
		return
	}
	dumpChats(db)
}

func dumpChats(db *badger.DB) {
	color.Cyan.Println("Conversations")
	table := newTable([]string{"Pair", "Last Message", "Unread", "Updated At"})

	err := scanPrefix(db, "chat:", func(key string, value []byte) error {
		var chat repositories.DiskChat
		if err := json.Unmarshal(value, &chat); err != nil {
			fmt.Printf("Error unmarshaling key %s: %v\n", key, err)
			return nil
		}
		table.Append([]string{
			key[len("chat:"):],
			chat.LastMessageID.String(),
			fmt.Sprintf("%d", chat.UnreadCount),
			chat.UpdatedAt.Format("2006-01-02 15:04:05"),
		})
		return nil
	})
	if err != nil {
		log.Fatal("Scan failed: ", err)
	}
	table.Render()
}

func dumpMessages(db *badger.DB, pairKey string) {
	color.Cyan.Printf("Messages for %s\n", pairKey)
	table := newTable([]string{"ID", "Sender", "Type", "Status", "Read", "Content"})

	prefix := fmt.Sprintf("msg:%s:", pairKey)
	err := scanPrefix(db, prefix, func(key string, value []byte) error {
		var message repositories.DiskMessage
		if err := json.Unmarshal(value, &message); err != nil {
			fmt.Printf("Error unmarshaling key %s: %v\n", key, err)
			return nil
		}
		table.Append([]string{
			message.ID.String(),
			message.SenderID,
			string(message.Type),
			string(message.Status),
			fmt.Sprintf("%t", message.IsRead),
			truncate(message.Content, 40),
		})
		return nil
	})
	if err != nil {
		log.Fatal("Scan failed: ", err)
	}
	table.Render()
}

func scanPrefix(db *badger.DB, prefix string, fn func(key string, value []byte) error) error {
	return db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefixBytes := []byte(prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			err := item.Value(func(v []byte) error {
				return fn(string(item.Key()), v)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func newTable(headers []string) *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(headers)
	table.SetAutoWrapText(false)
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

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
