package storage

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"sangam/internal/chat"
	"sangam/internal/models"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

var (
	bucketUsers         = []byte("users")
	bucketConversations = []byte("conversations")
	bucketMessages      = []byte("messages")
	bucketMessageIndex  = []byte("message_index")
)

type BboltStorage struct {
	db  *bbolt.DB
	now func() time.Time
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketUsers, bucketConversations, bucketMessages, bucketMessageIndex} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db, now: time.Now}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// UpsertUser stores a new or updated user record.
func (s *BboltStorage) UpsertUser(user models.User) error {
	if user.ID == "" {
		return errors.New("user missing id")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx.Bucket(bucketUsers), fromUserModel(user))
	})
}

// GetUser returns the user record or models.ErrNotFound.
func (s *BboltStorage) GetUser(userID string) (models.User, error) {
	var user models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		dbUser, err := getUser(tx, userID)
		if err != nil {
			return err
		}
		user = dbUser.toModel()
		return nil
	})
	return user, err
}

// ListOnlineUsers returns users whose durable presence flag is set.
func (s *BboltStorage) ListOnlineUsers() ([]models.User, error) {
	var users []models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(k, v []byte) error {
			var dbUser DBUser
			if err := dbUser.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbUser.IsOnline {
				users = append(users, dbUser.toModel())
			}
			return nil
		})
	})
	return users, err
}

// UpdatePresence sets the presence fields of an existing user.
func (s *BboltStorage) UpdatePresence(userID string, online bool, lastSeen time.Time) error {
	return s.updateUser(userID, func(u *DBUser) {
		u.IsOnline = online
		u.LastSeen = toUnixNano(lastSeen)
	})
}

// ResetPresence marks every online user offline as of now and returns how
// many records changed. Live connections do not survive a restart.
func (s *BboltStorage) ResetPresence(now time.Time) (int, error) {
	var reset int
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		var stale []*DBUser
		err := b.ForEach(func(k, v []byte) error {
			var dbUser DBUser
			if err := dbUser.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbUser.IsOnline {
				stale = append(stale, &dbUser)
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, dbUser := range stale {
			dbUser.IsOnline = false
			dbUser.LastSeen = toUnixNano(now)
			if err := put(b, dbUser); err != nil {
				return err
			}
		}
		reset = len(stale)
		return nil
	})
	return reset, err
}

// SetPushSubscription replaces the Web Push subscription of an existing user.
// A nil subscription removes it.
func (s *BboltStorage) SetPushSubscription(userID string, sub *models.PushSubscription) error {
	return s.updateUser(userID, func(u *DBUser) {
		if sub == nil {
			u.Push = nil
			return
		}
		u.Push = &DBPushKeys{Endpoint: sub.Endpoint, P256dh: sub.P256dh, Auth: sub.Auth}
	})
}

func (s *BboltStorage) updateUser(userID string, update func(u *DBUser)) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		dbUser, err := getUser(tx, userID)
		if err != nil {
			return err
		}
		update(dbUser)
		return put(tx.Bucket(bucketUsers), dbUser)
	})
}

// InsertMessage appends a message to its conversation and returns the stored
// record with its id and sequence assigned.
func (s *BboltStorage) InsertMessage(message models.Message) (models.Message, error) {
	if message.ConversationID == "" {
		return models.Message{}, errors.New("message missing conversationID")
	}
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = s.now()
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		chatBucket, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(message.ConversationID))
		if err != nil {
			return fmt.Errorf("failed to create conversation bucket: %w", err)
		}

		seq, err := chatBucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate sequence: %w", err)
		}

		dbMessage := fromMessageModel(message)
		dbMessage.Seq = seq
		if err := put(chatBucket, dbMessage); err != nil {
			return fmt.Errorf("failed to put message: %w", err)
		}

		ref := &DBMessageRef{ID: message.ID, ConversationID: message.ConversationID, Seq: seq}
		if err := put(tx.Bucket(bucketMessageIndex), ref); err != nil {
			return fmt.Errorf("failed to index message: %w", err)
		}

		convBucket := tx.Bucket(bucketConversations)
		conv := DBConversation{ID: message.ConversationID}
		if data := convBucket.Get(conv.Key()); data != nil {
			if err := conv.UnmarshalBinary(data); err != nil {
				return fmt.Errorf("failed to unmarshal conversation: %w", err)
			}
		} else {
			conv.UserA, conv.UserB = message.SenderID, message.ReceiverID
			if conv.UserB < conv.UserA {
				conv.UserA, conv.UserB = conv.UserB, conv.UserA
			}
		}
		conv.LastSeq = seq
		return put(convBucket, &conv)
	})
	if err != nil {
		return models.Message{}, err
	}

	message.Timestamp = message.Timestamp.UTC()
	return message, nil
}

// GetMessage returns a message by id.
func (s *BboltStorage) GetMessage(messageID string) (models.Message, error) {
	var msg models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		_, dbMsg, err := findMessage(tx, messageID)
		if err != nil {
			return err
		}
		msg = dbMsg.toModel()
		return nil
	})
	return msg, err
}

// ListMessages returns one page of a conversation, newest page first,
// messages inside the page in chronological order.
func (s *BboltStorage) ListMessages(conversationID string, page, limit int) (models.MessagePage, error) {
	page, limit = normalizePage(page, limit)
	result := models.MessagePage{Messages: []models.Message{}}

	err := s.db.View(func(tx *bbolt.Tx) error {
		chatBucket := tx.Bucket(bucketMessages).Bucket([]byte(conversationID))
		if chatBucket == nil {
			result.Pagination = models.NewPagination(page, limit, 0)
			return nil
		}

		skip := (page - 1) * limit
		total := 0
		c := chatBucket.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if total >= skip && total < skip+limit {
				var dbMsg DBMessage
				if err := dbMsg.UnmarshalBinary(v); err != nil {
					return err
				}
				result.Messages = append(result.Messages, dbMsg.toModel())
			}
			total++
		}
		slices.Reverse(result.Messages)
		result.Pagination = models.NewPagination(page, limit, total)
		return nil
	})
	return result, err
}

// MarkRead sets the read flag of a single message.
func (s *BboltStorage) MarkRead(messageID string, readAt time.Time) (models.Message, error) {
	var msg models.Message
	err := s.db.Update(func(tx *bbolt.Tx) error {
		chatBucket, dbMsg, err := findMessage(tx, messageID)
		if err != nil {
			return err
		}
		if !dbMsg.IsRead {
			dbMsg.IsRead = true
			dbMsg.ReadAt = toUnixNano(readAt)
			if err := put(chatBucket, dbMsg); err != nil {
				return err
			}
		}
		msg = dbMsg.toModel()
		return nil
	})
	return msg, err
}

// MarkReadMany sets the read flag of every listed message and returns
// the messages that were unread before. Unknown ids are skipped.
func (s *BboltStorage) MarkReadMany(messageIDs []string, readAt time.Time) ([]models.Message, error) {
	var changed []models.Message
	err := s.db.Update(func(tx *bbolt.Tx) error {
		for _, id := range messageIDs {
			chatBucket, dbMsg, err := findMessage(tx, id)
			if errors.Is(err, models.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if dbMsg.IsRead {
				continue
			}
			dbMsg.IsRead = true
			dbMsg.ReadAt = toUnixNano(readAt)
			if err := put(chatBucket, dbMsg); err != nil {
				return err
			}
			changed = append(changed, dbMsg.toModel())
		}
		return nil
	})
	return changed, err
}

// MarkConversationRead marks every unread message sent by senderID to
// receiverID as read.
func (s *BboltStorage) MarkConversationRead(receiverID, senderID string, readAt time.Time) ([]models.Message, error) {
	var changed []models.Message
	err := s.db.Update(func(tx *bbolt.Tx) error {
		chatBucket := tx.Bucket(bucketMessages).Bucket([]byte(chat.ConversationID(receiverID, senderID)))
		if chatBucket == nil {
			return nil
		}

		var updates []*DBMessage
		err := chatBucket.ForEach(func(k, v []byte) error {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbMsg.SenderID == senderID && dbMsg.ReceiverID == receiverID && !dbMsg.IsRead {
				updates = append(updates, &dbMsg)
			}
			return nil
		})
		if err != nil {
			return err
		}

		// Writes happen after iteration, bbolt cursors are invalidated by Put.
		for _, dbMsg := range updates {
			dbMsg.IsRead = true
			dbMsg.ReadAt = toUnixNano(readAt)
			if err := put(chatBucket, dbMsg); err != nil {
				return err
			}
			changed = append(changed, dbMsg.toModel())
		}
		return nil
	})
	return changed, err
}

// DeleteMessage removes a message sent by userID.
func (s *BboltStorage) DeleteMessage(messageID, userID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		chatBucket, dbMsg, err := findMessage(tx, messageID)
		if err != nil {
			return err
		}
		if dbMsg.SenderID != userID {
			return models.ErrForbidden
		}
		if err := chatBucket.Delete(dbMsg.Key()); err != nil {
			return err
		}
		return tx.Bucket(bucketMessageIndex).Delete([]byte(messageID))
	})
}

// ListConversations returns the conversations userID takes part in.
func (s *BboltStorage) ListConversations(userID string) ([]models.Conversation, error) {
	var conversations []models.Conversation
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketConversations).ForEach(func(k, v []byte) error {
			var conv DBConversation
			if err := conv.UnmarshalBinary(v); err != nil {
				return err
			}
			if conv.UserA == userID || conv.UserB == userID {
				conversations = append(conversations, conv.toModel())
			}
			return nil
		})
	})
	return conversations, err
}

// ChatList returns one entry per conversation partner of userID with the last
// message and the number of messages userID has not read yet, most recent first.
func (s *BboltStorage) ChatList(userID string) ([]models.ChatListEntry, error) {
	conversations, err := s.ListConversations(userID)
	if err != nil {
		return nil, err
	}

	entries := make([]models.ChatListEntry, 0, len(conversations))
	err = s.db.View(func(tx *bbolt.Tx) error {
		for _, conv := range conversations {
			chatBucket := tx.Bucket(bucketMessages).Bucket([]byte(conv.ID))
			if chatBucket == nil {
				continue
			}

			entry := models.ChatListEntry{PartnerID: conv.Partner(userID)}
			_, last := chatBucket.Cursor().Last()
			if last == nil {
				continue
			}
			var lastMsg DBMessage
			if err := lastMsg.UnmarshalBinary(last); err != nil {
				return err
			}
			entry.LastMessage = lastMsg.toModel()

			err := chatBucket.ForEach(func(k, v []byte) error {
				var dbMsg DBMessage
				if err := dbMsg.UnmarshalBinary(v); err != nil {
					return err
				}
				if dbMsg.ReceiverID == userID && !dbMsg.IsRead {
					entry.UnreadCount++
				}
				return nil
			})
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(entries, func(a, b models.ChatListEntry) int {
		return b.LastMessage.Timestamp.Compare(a.LastMessage.Timestamp)
	})
	return entries, nil
}

// SearchMessages finds messages sent or received by userID whose body contains
// query, case-insensitively. Newest first.
func (s *BboltStorage) SearchMessages(userID, query string, page, limit int) (models.MessagePage, error) {
	page, limit = normalizePage(page, limit)
	conversations, err := s.ListConversations(userID)
	if err != nil {
		return models.MessagePage{}, err
	}

	needle := strings.ToLower(query)
	var found []models.Message
	err = s.db.View(func(tx *bbolt.Tx) error {
		for _, conv := range conversations {
			chatBucket := tx.Bucket(bucketMessages).Bucket([]byte(conv.ID))
			if chatBucket == nil {
				continue
			}
			err := chatBucket.ForEach(func(k, v []byte) error {
				var dbMsg DBMessage
				if err := dbMsg.UnmarshalBinary(v); err != nil {
					return err
				}
				if strings.Contains(strings.ToLower(dbMsg.Body), needle) {
					found = append(found, dbMsg.toModel())
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return models.MessagePage{}, err
	}

	slices.SortStableFunc(found, func(a, b models.Message) int {
		return b.Timestamp.Compare(a.Timestamp)
	})

	result := models.MessagePage{
		Messages:   []models.Message{},
		Pagination: models.NewPagination(page, limit, len(found)),
	}
	start := (page - 1) * limit
	if start < len(found) {
		end := min(start+limit, len(found))
		result.Messages = append(result.Messages, found[start:end]...)
	}
	return result, nil
}

func getUser(tx *bbolt.Tx, userID string) (*DBUser, error) {
	data := tx.Bucket(bucketUsers).Get([]byte(userID))
	if data == nil {
		return nil, fmt.Errorf("user %s: %w", userID, models.ErrNotFound)
	}
	var dbUser DBUser
	if err := dbUser.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return &dbUser, nil
}

func findMessage(tx *bbolt.Tx, messageID string) (*bbolt.Bucket, *DBMessage, error) {
	data := tx.Bucket(bucketMessageIndex).Get([]byte(messageID))
	if data == nil {
		return nil, nil, fmt.Errorf("message %s: %w", messageID, models.ErrNotFound)
	}
	var ref DBMessageRef
	if err := ref.UnmarshalBinary(data); err != nil {
		return nil, nil, err
	}

	chatBucket := tx.Bucket(bucketMessages).Bucket([]byte(ref.ConversationID))
	if chatBucket == nil {
		return nil, nil, fmt.Errorf("message %s: %w", messageID, models.ErrNotFound)
	}
	msgData := chatBucket.Get(seqKey(ref.Seq))
	if msgData == nil {
		return nil, nil, fmt.Errorf("message %s: %w", messageID, models.ErrNotFound)
	}

	var dbMsg DBMessage
	if err := dbMsg.UnmarshalBinary(msgData); err != nil {
		return nil, nil, err
	}
	return chatBucket, &dbMsg, nil
}

func put(b *bbolt.Bucket, item Storeable) error {
	data, err := item.MarshalBinary()
	if err != nil {
		return err
	}
	return b.Put(item.Key(), data)
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 50
	}
	return page, limit
}
