package storage

import (
	"palaver/internal/models"
)

// UserSummary resolves the denormalized sender/reader view for a user,
// going through the TTL cache first.
func (s *BboltStorage) UserSummary(id string) (models.UserSummary, error) {
	if cached, err := s.userSummaries.Get(id); err == nil {
		return cached, nil
	}
	user, err := s.GetUser(id)
	if err != nil {
		return models.UserSummary{}, err
	}
	summary := models.UserSummary{
		ID:          user.ID,
		DisplayName: user.DisplayName,
		AvatarURL:   user.AvatarURL,
	}
	s.userSummaries.Set(id, summary)
	return summary, nil
}

// FileSummary resolves the denormalized file view, through the TTL cache.
func (s *BboltStorage) FileSummary(id string) (models.FileSummary, error) {
	if cached, err := s.fileSummaries.Get(id); err == nil {
		return cached, nil
	}
	meta, err := s.GetFileMetadata(id)
	if err != nil {
		return models.FileSummary{}, err
	}
	summary := models.FileSummary{
		ID:          meta.ID,
		DisplayName: meta.DisplayName,
		MimeType:    meta.MimeType,
		Size:        meta.Size,
	}
	s.fileSummaries.Set(id, summary)
	return summary, nil
}

// OwnedFileSummary resolves a file summary only when the file belongs to
// ownerID. Bypasses the cache: ownership checks must see current data.
func (s *BboltStorage) OwnedFileSummary(id, ownerID string) (models.FileSummary, error) {
	meta, err := s.GetFileOwned(id, ownerID)
	if err != nil {
		return models.FileSummary{}, err
	}
	return models.FileSummary{
		ID:          meta.ID,
		DisplayName: meta.DisplayName,
		MimeType:    meta.MimeType,
		Size:        meta.Size,
	}, nil
}

// EnrichMessage inlines sender, file and reader display data into a message.
// Lookups that fail leave the corresponding field empty rather than failing
// the whole message.
func (s *BboltStorage) EnrichMessage(msg *models.Message) {
	if msg.SenderID != "" {
		if sender, err := s.UserSummary(msg.SenderID); err == nil {
			msg.Sender = &sender
		}
	}
	if msg.FileID != "" {
		if file, err := s.FileSummary(msg.FileID); err == nil {
			msg.File = &file
		}
	}
	for _, r := range msg.ReadBy {
		if reader, err := s.UserSummary(r.ReaderID); err == nil {
			msg.Readers = append(msg.Readers, reader)
		}
	}
}

// EnrichMessages enriches a page of messages in place.
func (s *BboltStorage) EnrichMessages(msgs []models.Message) {
	for i := range msgs {
		s.EnrichMessage(&msgs[i])
	}
}
