package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
)

type IMessageRepository interface {
	StoreMessage(message DiskMessage) error
	GetMessages(channelCID string, limit int) ([]DiskMessage, error)
}

type MessageRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewMessageRepository(db *badger.DB, log *slog.Logger) MessageRepository {
	return MessageRepository{db: db, log: log}
}

// DiskMessage is a message as kept in a channel history. Payload is the
// exact document subscribers received.
type DiskMessage struct {
	ID         string          `json:"id"`
	ChannelCID string          `json:"cid"`
	Payload    json.RawMessage `json:"payload"`
	At         time.Time       `json:"at"`
}

// MessagePrefix namespaces channel history entries.
const MessagePrefix = "msg:"

// MessagePrefixFor is the key prefix of one channel history.
func MessagePrefixFor(channelCID string) string {
	return fmt.Sprintf("%s%s:", MessagePrefix, url.QueryEscape(channelCID))
}

// StoreMessage persists a message in BadgerDB.
// The key is formatted as "msg:{cid}:{timestamp_padded}:{id}" to:
//  1. Ensure chronological sorting using 19-digit zero padding (lexicographical order).
//  2. Prevent data loss by using the message id as a collision disconnector if two messages
//     arrive at the same nanosecond.
func (m MessageRepository) StoreMessage(message DiskMessage) error {
	key := fmt.Sprintf("%s%019d:%s", MessagePrefixFor(message.ChannelCID), message.At.UnixNano(), message.ID)
	bytes, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), bytes)
	})
}

// GetMessages returns the latest limit messages of a channel, oldest first.
// The scan walks the channel prefix backwards from the newest key and stops
// once limit messages are collected.
func (m MessageRepository) GetMessages(channelCID string, limit int) ([]DiskMessage, error) {
	var diskMessages []DiskMessage
	err := m.db.View(func(txn *badger.Txn) error {
		prefix := []byte(MessagePrefixFor(channelCID))
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		// Newest possible key of the channel, the reverse scan starts there
		seekKey := append(append([]byte{}, prefix...), []byte("9999999999999999999")...)
		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(diskMessages) == limit {
				m.log.Debug(fmt.Sprintf("Maximum of %d message reached", limit))
				break
			}
			err := it.Item().Value(func(value []byte) error {
				var message DiskMessage
				if err := json.Unmarshal(value, &message); err != nil {
					return err
				}
				diskMessages = append(diskMessages, message)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lo.Reverse(diskMessages), nil
}
