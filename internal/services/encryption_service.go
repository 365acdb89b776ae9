package services

import (
	"innerpath/internal/crypto"
	"innerpath/internal/models"
)

// EncryptionService wraps the crypto service with domain-specific methods.
// Transcripts and insights are sensitive by nature, so everything a user
// says in a check-in is encrypted at rest.
type EncryptionService struct {
	crypto *crypto.EncryptionService
}

// NewEncryptionService creates a new encryption service
func NewEncryptionService(encryptionKey, blindIndexKey []byte) (*EncryptionService, error) {
	cryptoSvc, err := crypto.NewEncryptionService(encryptionKey, blindIndexKey)
	if err != nil {
		return nil, err
	}
	return &EncryptionService{crypto: cryptoSvc}, nil
}

// EncryptUser encrypts sensitive user fields before storing in DB
func (s *EncryptionService) EncryptUser(user *models.User) error {
	encryptedEmail, blindIndex, err := s.crypto.EncryptWithBlindIndex(user.Email)
	if err != nil {
		return err
	}
	user.Email = encryptedEmail
	user.EmailBlindIndex = blindIndex
	return nil
}

// DecryptUser decrypts sensitive user fields after retrieving from DB
func (s *EncryptionService) DecryptUser(user *models.User) error {
	decryptedEmail, err := s.crypto.Decrypt(user.Email)
	if err != nil {
		return err
	}
	user.Email = decryptedEmail
	return nil
}

// EncryptMessage encrypts message content before storing in DB
func (s *EncryptionService) EncryptMessage(msg *models.Message) error {
	if msg.Content != "" {
		encrypted, err := s.crypto.Encrypt(msg.Content)
		if err != nil {
			return err
		}
		msg.Content = encrypted
	}
	return nil
}

// DecryptMessage decrypts message content after retrieving from DB
func (s *EncryptionService) DecryptMessage(msg *models.Message) error {
	if msg.Content != "" {
		decrypted, err := s.crypto.Decrypt(msg.Content)
		if err != nil {
			return err
		}
		msg.Content = decrypted
	}
	return nil
}

// EncryptInsight encrypts a session insight before storing in DB
func (s *EncryptionService) EncryptInsight(insight string) (string, error) {
	return s.crypto.Encrypt(insight)
}

// DecryptInsight decrypts a session insight after retrieving from DB
func (s *EncryptionService) DecryptInsight(insight string) (string, error) {
	return s.crypto.Decrypt(insight)
}

// GenerateEmailBlindIndex generates a blind index for email lookup
func (s *EncryptionService) GenerateEmailBlindIndex(email string) string {
	return s.crypto.GenerateBlindIndex(email)
}
