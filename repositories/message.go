//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"dm-engine/domain"
)

// maxTxnRetries bounds the optimistic retry loop on badger.ErrConflict.
// The Chat aggregate is the single contended key per pair; a handful of
// retries is enough to absorb concurrent sends on the same conversation.
const maxTxnRetries = 8

type IMessageRepository interface {
	CreateMessage(message DiskMessage) error
	UpdateMessageStatus(pairKey string, id uuid.UUID, status domain.MessageStatus) error
	MarkAllRead(senderID, receiverID string, at time.Time) (int, error)
	QueryHistory(pairKey string, cursor *string, limit int) ([]DiskMessage, *string, error)
	ListChats(userID string) ([]DiskChat, error)
}

type MessageRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewMessageRepository(db *badger.DB, log *slog.Logger) MessageRepository {
	return MessageRepository{db: db, log: log}
}

// DiskMessage is the storage representation of a message.
type DiskMessage struct {
	ID         uuid.UUID            `json:"id"`
	SenderID   string               `json:"sender"`
	ReceiverID string               `json:"receiver"`
	Content    string               `json:"content"`
	Type       domain.MessageType   `json:"messageType"`
	Status     domain.MessageStatus `json:"status"`
	IsRead     bool                 `json:"isRead"`
	ReadAt     *time.Time           `json:"readAt,omitempty"`
	CreatedAt  time.Time            `json:"createdAt"`
}

// DiskChat is the storage representation of the conversation aggregate.
type DiskChat struct {
	Participants  [2]string `json:"participants"`
	LastMessageID uuid.UUID `json:"lastMessage"`
	UnreadCount   int       `json:"unreadCount"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (d DiskMessage) ToDomain() domain.Message {
	return domain.Message{
		ID:         d.ID,
		SenderID:   d.SenderID,
		ReceiverID: d.ReceiverID,
		Content:    d.Content,
		Type:       d.Type,
		Status:     d.Status,
		IsRead:     d.IsRead,
		ReadAt:     d.ReadAt,
		CreatedAt:  d.CreatedAt,
	}
}

func FromDomain(m domain.Message) DiskMessage {
	return DiskMessage{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		Type:       m.Type,
		Status:     m.Status,
		IsRead:     m.IsRead,
		ReadAt:     m.ReadAt,
		CreatedAt:  m.CreatedAt,
	}
}

func (d DiskChat) ToDomain() domain.Chat {
	return domain.Chat{
		Participants:  d.Participants,
		LastMessageID: d.LastMessageID,
		UnreadCount:   d.UnreadCount,
		UpdatedAt:     d.UpdatedAt,
	}
}

// Message keys are "msg:{pairKey}:{uuidv7}". UUIDv7 strings sort in
// creation order, so a plain prefix scan yields chronological order and
// the message id doubles as the pagination cursor.
func messageKey(pairKey string, id uuid.UUID) []byte {
	return []byte(fmt.Sprintf("msg:%s:%s", pairKey, id))
}

func messagePrefix(pairKey string) []byte {
	return []byte(fmt.Sprintf("msg:%s:", pairKey))
}

func chatKey(pairKey string) []byte {
	return []byte("chat:" + pairKey)
}

// update runs fn in a read-write transaction, retrying on write conflicts.
// Badger transactions are optimistic: two concurrent sends on the same pair
// both read the Chat aggregate, and the loser retries with the fresh value,
// so no increment is ever lost.
func (m MessageRepository) update(fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < maxTxnRetries; i++ {
		err = m.db.Update(fn)
		if !stderrors.Is(err, badger.ErrConflict) {
			return err
		}
		m.log.Debug("transaction conflict, retrying", "attempt", i+1)
	}
	return err
}

// CreateMessage persists a message and upserts the Chat aggregate of its
// pair in the same transaction: the message write and the unread-counter
// increment commit or fail together.
func (m MessageRepository) CreateMessage(message DiskMessage) error {
	pairKey := domain.PairKey(message.SenderID, message.ReceiverID)
	raw, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return m.update(func(txn *badger.Txn) error {
		if err := txn.Set(messageKey(pairKey, message.ID), raw); err != nil {
			return err
		}
		chat, err := getChat(txn, pairKey)
		if stderrors.Is(err, badger.ErrKeyNotFound) {
			chat = DiskChat{Participants: domain.Pair(message.SenderID, message.ReceiverID)}
		} else if err != nil {
			return err
		}
		chat.LastMessageID = message.ID
		chat.UnreadCount++
		chat.UpdatedAt = message.CreatedAt
		return setChat(txn, pairKey, chat)
	})
}

// UpdateMessageStatus advances a message's status. A transition that would
// move backward is silently ignored; the stored state already won.
func (m MessageRepository) UpdateMessageStatus(pairKey string, id uuid.UUID, status domain.MessageStatus) error {
	return m.update(func(txn *badger.Txn) error {
		message, err := getMessage(txn, pairKey, id)
		if err != nil {
			return err
		}
		next := message.Status.Advance(status)
		if next == message.Status {
			return nil
		}
		message.Status = next
		raw, err := json.Marshal(message)
		if err != nil {
			return err
		}
		return txn.Set(messageKey(pairKey, id), raw)
	})
}

// MarkAllRead transitions every unread message from senderID to receiverID
// to read and resets the pair's unread counter, all in one transaction.
// Already-read rows are left untouched, which makes the sweep idempotent.
// Returns the number of rows actually transitioned.
func (m MessageRepository) MarkAllRead(senderID, receiverID string, at time.Time) (int, error) {
	pairKey := domain.PairKey(senderID, receiverID)
	prefix := messagePrefix(pairKey)
	var count int
	err := m.update(func(txn *badger.Txn) error {
		count = 0
		var pending []DiskMessage

		it := txn.NewIterator(badger.DefaultIteratorOptions)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var message DiskMessage
			err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &message)
			})
			if err != nil {
				it.Close()
				return err
			}
			if message.SenderID == senderID && !message.IsRead {
				pending = append(pending, message)
			}
		}
		it.Close()

		if len(pending) == 0 {
			// Nothing to sweep: leave the aggregate alone so a counter
			// incremented by a racing send is not wiped.
			return nil
		}

		readAt := at
		for _, message := range pending {
			message.IsRead = true
			message.ReadAt = &readAt
			message.Status = message.Status.Advance(domain.StatusRead)
			raw, err := json.Marshal(message)
			if err != nil {
				return err
			}
			if err := txn.Set(messageKey(pairKey, message.ID), raw); err != nil {
				return err
			}
		}
		count = len(pending)

		chat, err := getChat(txn, pairKey)
		if stderrors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		chat.UnreadCount = 0
		return setChat(txn, pairKey, chat)
	})
	return count, err
}

// QueryHistory walks the pair's messages backward from the cursor and
// returns up to limit messages in ascending chronological order, plus the
// id of the oldest one as the next cursor.
func (m MessageRepository) QueryHistory(pairKey string, cursor *string, limit int) ([]DiskMessage, *string, error) {
	prefix := messagePrefix(pairKey)
	var rawValues [][]byte
	var lastID string

	err := m.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		var seekKey []byte
		if cursor == nil {
			// Past the newest possible message id for this pair.
			seekKey = append(append([]byte{}, prefix...), 0xff)
		} else {
			seekKey = append(append([]byte{}, prefix...), []byte(*cursor)...)
		}

		it.Seek(seekKey)
		// The cursor row itself was already returned to the caller.
		if cursor != nil && it.ValidForPrefix(prefix) && string(it.Item().Key()) == string(seekKey) {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix) && len(rawValues) < limit; it.Next() {
			item := it.Item()
			lastID = string(item.Key()[len(prefix):])
			err := item.Value(func(v []byte) error {
				rawValues = append(rawValues, append([]byte{}, v...))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if len(rawValues) == 0 {
		return nil, nil, nil
	}

	// Collected newest-first; flip to oldest-first for the caller.
	messages := make([]DiskMessage, len(rawValues))
	for i, raw := range rawValues {
		var message DiskMessage
		if err := json.Unmarshal(raw, &message); err != nil {
			return nil, nil, err
		}
		messages[len(rawValues)-1-i] = message
	}
	return messages, &lastID, nil
}

// ListChats returns every conversation aggregate the user participates in,
// most recently updated first.
func (m MessageRepository) ListChats(userID string) ([]DiskChat, error) {
	var chats []DiskChat
	prefix := []byte("chat:")
	err := m.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var chat DiskChat
			err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &chat)
			})
			if err != nil {
				return err
			}
			if chat.Participants[0] == userID || chat.Participants[1] == userID {
				chats = append(chats, chat)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(chats, func(i, j int) bool {
		return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
	})
	return chats, nil
}

func getMessage(txn *badger.Txn, pairKey string, id uuid.UUID) (DiskMessage, error) {
	var message DiskMessage
	item, err := txn.Get(messageKey(pairKey, id))
	if err != nil {
		return message, err
	}
	err = item.Value(func(v []byte) error {
		return json.Unmarshal(v, &message)
	})
	return message, err
}

func getChat(txn *badger.Txn, pairKey string) (DiskChat, error) {
	var chat DiskChat
	item, err := txn.Get(chatKey(pairKey))
	if err != nil {
		return chat, err
	}
	err = item.Value(func(v []byte) error {
		return json.Unmarshal(v, &chat)
	})
	return chat, err
}

func setChat(txn *badger.Txn, pairKey string, chat DiskChat) error {
	raw, err := json.Marshal(chat)
	if err != nil {
		return err
	}
	return txn.Set(chatKey(pairKey), raw)
}
