package storage

import "palaver/internal/models"

func toDBMessage(m models.Message) DBMessage {
	dbm := DBMessage{
		ID:            m.ID,
		RoomID:        m.RoomID,
		SenderID:      m.SenderID,
		Type:          string(m.Type),
		Content:       m.Content,
		FileID:        m.FileID,
		AssistantKind: m.AssistantKind,
		Timestamp:     m.Timestamp,
		Reactions:     m.Reactions,
		Metadata:      m.Metadata,
		Deleted:       m.Deleted,
	}
	for _, r := range m.ReadBy {
		dbm.ReadBy = append(dbm.ReadBy, DBReadReceipt(r))
	}
	return dbm
}

func fromDBMessage(dbm DBMessage) models.Message {
	m := models.Message{
		ID:            dbm.ID,
		RoomID:        dbm.RoomID,
		SenderID:      dbm.SenderID,
		Type:          models.MessageType(dbm.Type),
		Content:       dbm.Content,
		FileID:        dbm.FileID,
		AssistantKind: dbm.AssistantKind,
		Timestamp:     dbm.Timestamp,
		Reactions:     dbm.Reactions,
		Metadata:      dbm.Metadata,
		Deleted:       dbm.Deleted,
	}
	for _, r := range dbm.ReadBy {
		m.ReadBy = append(m.ReadBy, models.ReadReceipt(r))
	}
	return m
}

func fromDBRoom(dbr DBRoom) models.Room {
	return models.Room{
		ID:           dbr.ID,
		Name:         dbr.Name,
		PasswordHash: dbr.PasswordHash,
		Members:      dbr.Members,
		CreatedBy:    dbr.CreatedBy,
		CreatedAt:    dbr.CreatedAt,
	}
}

func fromDBUser(dbu DBUser) models.User {
	return models.User{
		ID:               dbu.ID,
		UserName:         dbu.UserName,
		DisplayName:      dbu.DisplayName,
		AvatarURL:        dbu.AvatarURL,
		Status:           models.UserStatus(dbu.Status),
		PushSubscription: dbu.PushSubscription,
	}
}
