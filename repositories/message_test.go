package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

func openDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func diskMessage(cid, id string, at time.Time) DiskMessage {
	return DiskMessage{
		ID:         id,
		ChannelCID: cid,
		Payload:    json.RawMessage(fmt.Sprintf(`{"id":%q,"text":"hello"}`, id)),
		At:         at,
	}
}

func Test_Record_Multiple_Message(t *testing.T) {
	req := require.New(t)
	repository := NewMessageRepository(openDB(t), slog.Default())
	at := time.Now().UTC()
	diskMessages := []DiskMessage{
		diskMessage("messaging:lobby", "m1", at),
		diskMessage("messaging:lobby", "m2", at.Add(1*time.Minute)),
		diskMessage("messaging:lobby", "m3", at.Add(2*time.Minute)),
	}

	// Given messages stored out of order
	for _, i := range []int{2, 0, 1} {
		req.NoError(repository.StoreMessage(diskMessages[i]))
	}

	// Then they come back oldest first
	fetched, err := repository.GetMessages("messaging:lobby", 50)
	req.NoError(err)
	req.Equal(diskMessages, fetched)
}

func Test_Record_Multiple_Message_And_Limit(t *testing.T) {
	req := require.New(t)
	repository := NewMessageRepository(openDB(t), slog.Default())
	at := time.Now().UTC()
	for i := 0; i < 5; i++ {
		req.NoError(repository.StoreMessage(diskMessage("messaging:lobby", fmt.Sprintf("m%d", i), at.Add(time.Duration(i)*time.Second))))
	}

	// When fewer messages than stored are asked
	fetched, err := repository.GetMessages("messaging:lobby", 2)

	// Then the latest ones are returned, oldest first
	req.NoError(err)
	req.Len(fetched, 2)
	req.Equal("m3", fetched[0].ID)
	req.Equal("m4", fetched[1].ID)
}

func Test_Messages_Are_Isolated_Per_Channel(t *testing.T) {
	req := require.New(t)
	repository := NewMessageRepository(openDB(t), slog.Default())
	at := time.Now().UTC()

	req.NoError(repository.StoreMessage(diskMessage("messaging:lobby", "m1", at)))
	req.NoError(repository.StoreMessage(diskMessage("messaging:lobby2", "m2", at)))

	fetched, err := repository.GetMessages("messaging:lobby", 0)
	req.NoError(err)
	req.Len(fetched, 1)
	req.Equal("m1", fetched[0].ID)

	fetched, err = repository.GetMessages("messaging:unknown", 10)
	req.NoError(err)
	req.Empty(fetched)
}

func Test_Same_Timestamp_Keeps_Both_Messages(t *testing.T) {
	req := require.New(t)
	repository := NewMessageRepository(openDB(t), slog.Default())
	at := time.Now().UTC()

	req.NoError(repository.StoreMessage(diskMessage("messaging:lobby", "a", at)))
	req.NoError(repository.StoreMessage(diskMessage("messaging:lobby", "b", at)))

	fetched, err := repository.GetMessages("messaging:lobby", 10)
	req.NoError(err)
	req.Len(fetched, 2)
}
