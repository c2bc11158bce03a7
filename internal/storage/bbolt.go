package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"github.com/c-pro/geche"
	"go.etcd.io/bbolt"

	"palaver/internal/auth"
	"palaver/internal/models"
)

var (
	bucketUsers       = []byte("users")
	bucketCredentials = []byte("credentials")
	bucketRooms       = []byte("rooms")
	bucketMessages    = []byte("messages")
	bucketMsgIndex    = []byte("msgindex")
	bucketFiles       = []byte("files")
)

const summaryCacheTTL = time.Minute

// BboltStorage is the document store collaborator: the single source of
// truth for rooms, users, messages and file metadata.
type BboltStorage struct {
	db *bbolt.DB

	// read-through caches for enrichment lookups; staleness here only
	// delays a display-name change, never correctness
	userSummaries geche.Geche[string, models.UserSummary]
	fileSummaries geche.Geche[string, models.FileSummary]
}

func NewBboltStorage(ctx context.Context, path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{
			bucketUsers, bucketCredentials, bucketRooms,
			bucketMessages, bucketMsgIndex, bucketFiles,
		} {
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

	return &BboltStorage{
		db:            db,
		userSummaries: geche.NewMapTTLCache[string, models.UserSummary](ctx, summaryCacheTTL, 10*time.Second),
		fileSummaries: geche.NewMapTTLCache[string, models.FileSummary](ctx, summaryCacheTTL, 10*time.Second),
	}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// UpsertUser stores a user profile.
func (s *BboltStorage) UpsertUser(user models.User) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		dbUser := &DBUser{
			ID:               user.ID,
			UserName:         user.UserName,
			DisplayName:      user.DisplayName,
			AvatarURL:        user.AvatarURL,
			Status:           string(user.Status),
			PushSubscription: user.PushSubscription,
		}
		data, err := dbUser.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketUsers).Put(dbUser.Key(), data)
	})
}

func (s *BboltStorage) GetUser(id string) (models.User, error) {
	var user models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketUsers).Get([]byte(id))
		if data == nil {
			return models.ErrNotFound
		}
		var dbUser DBUser
		if err := dbUser.UnmarshalBinary(data); err != nil {
			return err
		}
		user = fromDBUser(dbUser)
		return nil
	})
	return user, err
}

// UpsertCredentials stores login credentials and the matching user profile.
func (s *BboltStorage) UpsertCredentials(c auth.Credentials) error {
	if err := s.UpsertUser(models.User{
		ID:          c.UserID,
		UserName:    c.Username,
		DisplayName: c.DisplayName,
		Status:      models.UserStatusActive,
	}); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		dbCreds := &DBCredentials{
			UserID:       c.UserID,
			Username:     c.Username,
			DisplayName:  c.DisplayName,
			PasswordHash: c.PasswordHash,
		}
		data, err := dbCreds.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketCredentials).Put(dbCreds.Key(), data)
	})
}

func (s *BboltStorage) GetCredentials(username string) (auth.Credentials, error) {
	var creds auth.Credentials
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketCredentials).Get([]byte(username))
		if data == nil {
			return models.ErrNotFound
		}
		var dbCreds DBCredentials
		if err := dbCreds.UnmarshalBinary(data); err != nil {
			return err
		}
		creds = auth.Credentials{
			UserID:       dbCreds.UserID,
			Username:     dbCreds.Username,
			DisplayName:  dbCreds.DisplayName,
			PasswordHash: dbCreds.PasswordHash,
		}
		return nil
	})
	return creds, err
}

// UpsertRoom saves a room record.
func (s *BboltStorage) UpsertRoom(room models.Room) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		dbRoom := &DBRoom{
			ID:           room.ID,
			Name:         room.Name,
			PasswordHash: room.PasswordHash,
			Members:      room.Members,
			CreatedBy:    room.CreatedBy,
			CreatedAt:    room.CreatedAt,
		}
		data, err := dbRoom.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketRooms).Put(dbRoom.Key(), data)
	})
}

func (s *BboltStorage) GetRoom(id string) (models.Room, error) {
	var room models.Room
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketRooms).Get([]byte(id))
		if data == nil {
			return models.ErrNotFound
		}
		var dbRoom DBRoom
		if err := dbRoom.UnmarshalBinary(data); err != nil {
			return err
		}
		room = fromDBRoom(dbRoom)
		return nil
	})
	return room, err
}

// ListRooms returns all rooms sorted by name.
func (s *BboltStorage) ListRooms() ([]models.Room, error) {
	var rooms []models.Room
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRooms).ForEach(func(k, v []byte) error {
			var dbRoom DBRoom
			if err := dbRoom.UnmarshalBinary(v); err != nil {
				return err
			}
			rooms = append(rooms, fromDBRoom(dbRoom))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Name < rooms[j].Name })
	return rooms, nil
}

// AddRoomMember adds a user to a room's member list inside one transaction.
// Duplicate adds are no-ops.
func (s *BboltStorage) AddRoomMember(roomID, userID string) (models.Room, error) {
	return s.mutateRoomMembers(roomID, func(members []string) []string {
		for _, m := range members {
			if m == userID {
				return members
			}
		}
		return append(members, userID)
	})
}

// RemoveRoomMember removes a user from a room's member list inside one
// transaction. Removing an absent member is a no-op.
func (s *BboltStorage) RemoveRoomMember(roomID, userID string) (models.Room, error) {
	return s.mutateRoomMembers(roomID, func(members []string) []string {
		for i, m := range members {
			if m == userID {
				return append(members[:i:i], members[i+1:]...)
			}
		}
		return members
	})
}

func (s *BboltStorage) mutateRoomMembers(roomID string, mutate func([]string) []string) (models.Room, error) {
	var room models.Room
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRooms)
		data := b.Get([]byte(roomID))
		if data == nil {
			return models.ErrNotFound
		}
		var dbRoom DBRoom
		if err := dbRoom.UnmarshalBinary(data); err != nil {
			return err
		}
		dbRoom.Members = mutate(dbRoom.Members)
		updated, err := dbRoom.MarshalBinary()
		if err != nil {
			return err
		}
		if err := b.Put(dbRoom.Key(), updated); err != nil {
			return err
		}
		room = fromDBRoom(dbRoom)
		return nil
	})
	return room, err
}

// InsertMessage persists a message and indexes it by ID.
func (s *BboltStorage) InsertMessage(msg models.Message) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if msg.RoomID == "" {
			return fmt.Errorf("message missing roomID")
		}
		dbMsg := toDBMessage(msg)

		roomBucket, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(msg.RoomID))
		if err != nil {
			return fmt.Errorf("failed to create room bucket: %w", err)
		}
		data, err := dbMsg.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		key := dbMsg.Key()
		if err := roomBucket.Put(key, data); err != nil {
			return fmt.Errorf("failed to put message: %w", err)
		}

		ref := DBMessageRef{RoomID: msg.RoomID, MsgKey: key}
		refData, err := ref.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketMsgIndex).Put([]byte(msg.ID), refData)
	})
}

func (s *BboltStorage) GetMessage(id string) (models.Message, error) {
	var msg models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		dbMsg, err := getMessageTx(tx, id)
		if err != nil {
			return err
		}
		msg = fromDBMessage(*dbMsg)
		return nil
	})
	return msg, err
}

// UpdateMessage rewrites a message record in place. The timestamp (and with
// it the record key) never changes after insert.
func (s *BboltStorage) UpdateMessage(msg models.Message) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putMessageTx(tx, toDBMessage(msg))
	})
}

// SoftDeleteMessage flags a message as deleted without removing the record.
func (s *BboltStorage) SoftDeleteMessage(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		dbMsg, err := getMessageTx(tx, id)
		if err != nil {
			return err
		}
		dbMsg.Deleted = true
		return putMessageTx(tx, *dbMsg)
	})
}

// MarkMessagesRead appends a read receipt to each listed message that the
// reader has not marked yet, in one transaction. Returns the IDs actually
// updated.
func (s *BboltStorage) MarkMessagesRead(ids []string, readerID string, at int64) ([]string, error) {
	var updated []string
	err := s.db.Update(func(tx *bbolt.Tx) error {
		for _, id := range ids {
			dbMsg, err := getMessageTx(tx, id)
			if err != nil {
				if err == models.ErrNotFound {
					continue
				}
				return err
			}
			already := false
			for _, r := range dbMsg.ReadBy {
				if r.ReaderID == readerID {
					already = true
					break
				}
			}
			if already {
				continue
			}
			dbMsg.ReadBy = append(dbMsg.ReadBy, DBReadReceipt{ReaderID: readerID, ReadAt: at})
			if err := putMessageTx(tx, *dbMsg); err != nil {
				return err
			}
			updated = append(updated, id)
		}
		return nil
	})
	return updated, err
}

// ListMessagesBefore returns up to limit non-deleted messages in a room in
// descending timestamp order, strictly older than before when before > 0.
func (s *BboltStorage) ListMessagesBefore(roomID string, before int64, limit int) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		roomBucket := tx.Bucket(bucketMessages).Bucket([]byte(roomID))
		if roomBucket == nil {
			return nil
		}

		c := roomBucket.Cursor()
		var k, v []byte
		if before > 0 {
			// First key at or past the cutoff, then step back.
			cutoff := make([]byte, 8)
			binary.BigEndian.PutUint64(cutoff, uint64(before))
			k, v = c.Seek(cutoff)
			if k == nil {
				k, v = c.Last()
			} else {
				k, v = c.Prev()
			}
		} else {
			k, v = c.Last()
		}

		for ; k != nil && len(messages) < limit; k, v = c.Prev() {
			if before > 0 && bytes.Compare(k[:8], timestampKey(before)) >= 0 {
				continue
			}
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbMsg.Deleted {
				continue
			}
			messages = append(messages, fromDBMessage(dbMsg))
		}
		return nil
	})
	return messages, err
}

func timestampKey(ts int64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(ts))
	return k
}

func getMessageTx(tx *bbolt.Tx, id string) (*DBMessage, error) {
	refData := tx.Bucket(bucketMsgIndex).Get([]byte(id))
	if refData == nil {
		return nil, models.ErrNotFound
	}
	var ref DBMessageRef
	if err := ref.UnmarshalBinary(refData); err != nil {
		return nil, err
	}
	roomBucket := tx.Bucket(bucketMessages).Bucket([]byte(ref.RoomID))
	if roomBucket == nil {
		return nil, models.ErrNotFound
	}
	data := roomBucket.Get(ref.MsgKey)
	if data == nil {
		return nil, models.ErrNotFound
	}
	var dbMsg DBMessage
	if err := dbMsg.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return &dbMsg, nil
}

func putMessageTx(tx *bbolt.Tx, dbMsg DBMessage) error {
	roomBucket := tx.Bucket(bucketMessages).Bucket([]byte(dbMsg.RoomID))
	if roomBucket == nil {
		return models.ErrNotFound
	}
	data, err := dbMsg.MarshalBinary()
	if err != nil {
		return err
	}
	return roomBucket.Put(dbMsg.Key(), data)
}
