package service

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/smallbiznis/paygate/internal/gatewayconfig/domain"
	"golang.org/x/crypto/argon2"
	"gorm.io/datatypes"
)

const envelopeVersion = 1

// Key derivation runs once per process, so it can afford argon2id.
const (
	keySalt    = "paygate.gateway-credentials.v1"
	keyTime    = 1
	keyMemory  = 19 * 1024
	keyThreads = 2
	keyLength  = 32
)

// emptyEnvelope marks an unset credential set.
var emptyEnvelope = datatypes.JSON(`{}`)

type encryptedPayload struct {
	Version    int    `json:"version"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

type sealer struct {
	key []byte
}

func newSealer(secret string) *sealer {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return &sealer{}
	}
	return &sealer{key: argon2.IDKey([]byte(secret), []byte(keySalt), keyTime, keyMemory, keyThreads, keyLength)}
}

func (s *sealer) gcm() (cipher.AEAD, error) {
	if len(s.key) == 0 {
		return nil, domain.ErrEncryptionKeyMissing
	}
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (s *sealer) seal(credentials map[string]string) (datatypes.JSON, error) {
	if len(credentials) == 0 {
		return emptyEnvelope, nil
	}
	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(credentials)
	if err != nil {
		return nil, domain.ErrInvalidConfig
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nil, nonce, payload, nil)
	out, err := json.Marshal(encryptedPayload{
		Version:    envelopeVersion,
		Nonce:      base64.RawStdEncoding.EncodeToString(nonce),
		Ciphertext: base64.RawStdEncoding.EncodeToString(ciphertext),
	})
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(out), nil
}

func (s *sealer) open(raw datatypes.JSON) (map[string]string, error) {
	if len(raw) == 0 {
		return map[string]string{}, nil
	}
	var envelope encryptedPayload
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, domain.ErrDecryptFailed
	}
	if envelope.Version == 0 && envelope.Ciphertext == "" {
		return map[string]string{}, nil
	}
	if envelope.Version != envelopeVersion {
		return nil, domain.ErrDecryptFailed
	}

	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}
	nonce, err := base64.RawStdEncoding.DecodeString(envelope.Nonce)
	if err != nil || len(nonce) != gcm.NonceSize() {
		return nil, domain.ErrDecryptFailed
	}
	ciphertext, err := base64.RawStdEncoding.DecodeString(envelope.Ciphertext)
	if err != nil {
		return nil, domain.ErrDecryptFailed
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, domain.ErrDecryptFailed
	}

	credentials := map[string]string{}
	if err := json.Unmarshal(plaintext, &credentials); err != nil {
		return nil, domain.ErrDecryptFailed
	}
	return credentials, nil
}

func normalizeCredentials(credentials map[string]string) map[string]string {
	normalized := make(map[string]string, len(credentials))
	for key, value := range credentials {
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		normalized[key] = value
	}
	return normalized
}
