package repositories

import (
	"chat-relay/errors"
	"encoding/json"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
)

type IChannelRepository interface {
	CreateChannel(cid, createdBy string) (Channel, error)
	AddMembers(cid string, userIDs []string) error
	GetChannel(cid string) (Channel, error)
}

type ChannelRepository struct {
	db *badger.DB
}

func NewChannelRepository(db *badger.DB) ChannelRepository {
	return ChannelRepository{db: db}
}

// Channel is the provider-side record of a room.
type Channel struct {
	CID       string    `json:"cid"`
	CreatedBy string    `json:"created_by"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"created_at"`
}

// ChannelPrefix namespaces channel records.
const ChannelPrefix = "channel:"

func channelKey(cid string) []byte { return []byte(ChannelPrefix + cid) }

// CreateChannel returns the existing channel or creates it.
func (c ChannelRepository) CreateChannel(cid, createdBy string) (Channel, error) {
	var channel Channel
	err := c.db.Update(func(txn *badger.Txn) error {
		existing, err := getChannel(txn, cid)
		if err == nil {
			channel = existing
			return nil
		}
		if !errors.Is(err, errors.ErrChannelNotFound) {
			return err
		}
		channel = Channel{CID: cid, CreatedBy: createdBy, CreatedAt: time.Now().UTC()}
		return setChannel(txn, channel)
	})
	return channel, err
}

// AddMembers adds users to a channel; users already in are kept once.
func (c ChannelRepository) AddMembers(cid string, userIDs []string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		channel, err := getChannel(txn, cid)
		if err != nil {
			return err
		}
		channel.Members = lo.Uniq(append(channel.Members, userIDs...))
		return setChannel(txn, channel)
	})
}

func (c ChannelRepository) GetChannel(cid string) (Channel, error) {
	var channel Channel
	err := c.db.View(func(txn *badger.Txn) error {
		var err error
		channel, err = getChannel(txn, cid)
		return err
	})
	return channel, err
}

func getChannel(txn *badger.Txn, cid string) (Channel, error) {
	item, err := txn.Get(channelKey(cid))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Channel{}, errors.ErrChannelNotFound
	}
	if err != nil {
		return Channel{}, err
	}
	var channel Channel
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &channel)
	})
	return channel, err
}

func setChannel(txn *badger.Txn, channel Channel) error {
	data, err := json.Marshal(channel)
	if err != nil {
		return err
	}
	return txn.Set(channelKey(channel.CID), data)
}
