//go:generate go run go.uber.org/mock/mockgen -source=message_service.go -destination=../mocks/mock_message_service.go -package=mocks
package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"dm-engine/auth"
	"dm-engine/contract"
	"dm-engine/domain"
	"dm-engine/domain/event"
	"dm-engine/errors"
	"dm-engine/observability"
	"dm-engine/repositories"
	rt "dm-engine/runtime"
)

const defaultHistoryLimit = 20

type IMessageService interface {
	Send(ctx context.Context, cmd domain.SendMessageCommand) (domain.Message, error)
	History(ctx context.Context, cmd domain.HistoryCommand) ([]domain.Message, *string, error)
	MarkRead(ctx context.Context, readerID, otherID string) (int, error)
	Chats(userID string) ([]domain.Chat, error)
	Typing(fromID, toID string, isTyping bool)
}

// MessageService is the delivery engine behind the transport layer:
// the send pipeline, the read-state reconciler, and the history cursor.
type MessageService struct {
	log          *slog.Logger
	users        repositories.IUserRepository
	messages     repositories.IMessageRepository
	registry     contract.IRegistry
	notifier     contract.INotifier
	presence     *rt.PresenceQueue
	metrics      *observability.EngineMetrics
	historyLimit int
}

func NewMessageService(
	log *slog.Logger,
	users repositories.IUserRepository,
	messages repositories.IMessageRepository,
	registry contract.IRegistry,
	notifier contract.INotifier,
	presence *rt.PresenceQueue,
	metrics *observability.EngineMetrics,
	historyLimit int,
) *MessageService {
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	return &MessageService{
		log:          log,
		users:        users,
		messages:     messages,
		registry:     registry,
		notifier:     notifier,
		presence:     presence,
		metrics:      metrics,
		historyLimit: historyLimit,
	}
}

// Send persists a message and fans it out to the receiver's live sessions.
//
// Persistence (message + conversation upsert) is atomic; everything after
// it is best-effort. The message ends up "delivered" iff the receiver had
// at least one live session when the fan-out ran — individual session
// write failures do not veto the transition, they only evict that session.
// The sender's own sessions get a messageStatus acknowledgment last.
func (s *MessageService) Send(ctx context.Context, cmd domain.SendMessageCommand) (domain.Message, error) {
	if cmd.Type == "" {
		cmd.Type = domain.TypeText
	}
	if strings.TrimSpace(cmd.Content) == "" || !cmd.Type.Valid() || cmd.ReceiverID == "" {
		return domain.Message{}, errors.ErrValidation
	}

	found, err := s.users.Exists(cmd.ReceiverID)
	if err != nil {
		return domain.Message{}, fmt.Errorf("%w: receiver lookup: %v", errors.ErrPersistence, err)
	}
	if !found {
		return domain.Message{}, errors.ErrReceiverNotFound
	}

	id, err := uuid.NewV7()
	if err != nil {
		return domain.Message{}, fmt.Errorf("message id generation: %w", err)
	}
	message := domain.Message{
		ID:         id,
		SenderID:   cmd.SenderID,
		ReceiverID: cmd.ReceiverID,
		Content:    cmd.Content,
		Type:       cmd.Type,
		Status:     domain.StatusSent,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.messages.CreateMessage(repositories.FromDomain(message)); err != nil {
		return domain.Message{}, fmt.Errorf("%w: %v", errors.ErrPersistence, err)
	}
	s.metrics.IncrMessagesSent()

	pairKey := domain.PairKey(cmd.SenderID, cmd.ReceiverID)
	if sessions := s.notifier.NotifyUser(ctx, cmd.ReceiverID, event.NewMessage{Message: message}); sessions > 0 {
		message.Status = domain.StatusDelivered
		s.metrics.IncrMessagesDelivered()
		if err := s.messages.UpdateMessageStatus(pairKey, message.ID, domain.StatusDelivered); err != nil {
			// The message stays "sent" on disk; delivery already happened.
			s.log.Error("delivered status update failed",
				"message_id", message.ID, "error", err)
		}
	}

	s.notifier.NotifyUser(ctx, cmd.SenderID, event.MessageStatus{
		MessageID: message.ID.String(),
		Status:    message.Status,
	})
	return message, nil
}

// MarkRead sweeps every unread message from otherID to readerID, resets the
// pair's unread counter, and acknowledges the original sender's sessions
// with one batch messageStatus event.
//
// The sweep is idempotent: a second call finds nothing unread, changes
// nothing, and emits nothing. A message arriving concurrently with the
// sweep may stay unread; the next call catches it.
func (s *MessageService) MarkRead(ctx context.Context, readerID, otherID string) (int, error) {
	authenticated, ok := auth.UserIDFromContext(ctx)
	if !ok || authenticated != readerID {
		return 0, errors.ErrUnauthorized
	}

	count, err := s.messages.MarkAllRead(otherID, readerID, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("%w: read sweep: %v", errors.ErrPersistence, err)
	}
	if count == 0 {
		return 0, nil
	}
	s.metrics.IncrReadSweeps()

	s.notifier.NotifyUser(ctx, otherID, event.MessageStatus{
		MessageID: event.BatchMessageID,
		Status:    domain.StatusRead,
	})
	return count, nil
}

// History returns up to Limit messages of the pair, oldest first, strictly
// older than the cursor when one is given.
//
// Side effect, by contract: fetching history consumes the caller's unread
// backlog for this conversation (view = acknowledge). The returned page
// shows the pre-sweep read state, exactly what the caller saw.
func (s *MessageService) History(ctx context.Context, cmd domain.HistoryCommand) ([]domain.Message, *string, error) {
	found, err := s.users.Exists(cmd.OtherID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: user lookup: %v", errors.ErrPersistence, err)
	}
	if !found {
		return nil, nil, errors.ErrUserNotFound
	}

	limit := cmd.Limit
	if limit <= 0 {
		limit = s.historyLimit
	}

	diskMessages, cursor, err := s.messages.QueryHistory(domain.PairKey(cmd.UserID, cmd.OtherID), cmd.Cursor, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: history query: %v", errors.ErrPersistence, err)
	}

	if _, err := s.MarkRead(ctx, cmd.UserID, cmd.OtherID); err != nil {
		// The page itself is already fetched; the sweep can fail alone.
		s.log.Error("implicit read sweep failed",
			"reader", cmd.UserID, "other", cmd.OtherID, "error", err)
	}

	messages := lo.Map(diskMessages, func(item repositories.DiskMessage, _ int) domain.Message {
		return item.ToDomain()
	})
	return messages, cursor, nil
}

func (s *MessageService) Chats(userID string) ([]domain.Chat, error) {
	diskChats, err := s.messages.ListChats(userID)
	if err != nil {
		return nil, fmt.Errorf("%w: chat list: %v", errors.ErrPersistence, err)
	}
	return lo.Map(diskChats, func(item repositories.DiskChat, _ int) domain.Chat {
		return item.ToDomain()
	}), nil
}

// Typing forwards a typing indicator to the target's sessions only.
// No persistence, no retry; dropped silently if the target is offline.
func (s *MessageService) Typing(fromID, toID string, isTyping bool) {
	s.presence.Enqueue(rt.Notice{
		Target: toID,
		Event:  event.Typing{SenderID: fromID, IsTyping: isTyping},
	})
}
