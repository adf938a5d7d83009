package service

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/tripdeal/bargain/internal/capsule/domain"
	"github.com/tripdeal/bargain/internal/clock"
	"github.com/tripdeal/bargain/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

type Params struct {
	fx.In

	Cfg   config.Config
	Log   *zap.Logger
	Clock clock.Clock
}

// Signer signs capsules with the active ed25519 key and verifies against a
// keyring so capsules produced before a rotation still verify.
type Signer struct {
	log     *zap.Logger
	clock   clock.Clock
	private ed25519.PrivateKey
	keyID   string
	keyring map[string]ed25519.PublicKey
}

func New(p Params) (domain.Signer, error) {
	private, err := loadOrGenerateKey(p.Cfg.Capsule.SigningSeed, p.Log)
	if err != nil {
		return nil, err
	}

	public := private.Public().(ed25519.PublicKey)
	keyID, err := keyFingerprint(public)
	if err != nil {
		return nil, err
	}

	return &Signer{
		log:     p.Log.Named("capsule.signer"),
		clock:   p.Clock,
		private: private,
		keyID:   keyID,
		keyring: map[string]ed25519.PublicKey{keyID: public},
	}, nil
}

func loadOrGenerateKey(seedHex string, log *zap.Logger) (ed25519.PrivateKey, error) {
	if seedHex == "" {
		// Ephemeral key: capsules from previous runs will not verify.
		// Acceptable for development, not for production.
		log.Warn("no capsule signing seed configured, generating ephemeral key")
		_, private, err := ed25519.GenerateKey(rand.Reader)
		return private, err
	}

	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("decode signing seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

func keyFingerprint(public ed25519.PublicKey) (string, error) {
	h, err := blake2b.New(16, nil)
	if err != nil {
		return "", err
	}
	h.Write(public)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (s *Signer) Sign(sessionID string, payload any) (*domain.Capsule, error) {
	if s.private == nil {
		return nil, domain.ErrSigningKeyMissing
	}

	canonical, err := canonicalize(payload)
	if err != nil {
		return nil, err
	}

	digest := blake2b.Sum256(canonical)
	signature := ed25519.Sign(s.private, digest[:])

	return &domain.Capsule{
		SessionID: sessionID,
		Payload:   string(canonical),
		Signature: base64.StdEncoding.EncodeToString(signature),
		KeyID:     s.keyID,
		SignedAt:  s.clock.Now().UTC(),
	}, nil
}

func (s *Signer) Verify(capsule *domain.Capsule) bool {
	if capsule == nil {
		return false
	}
	public, ok := s.keyring[capsule.KeyID]
	if !ok {
		return false
	}
	signature, err := base64.StdEncoding.DecodeString(capsule.Signature)
	if err != nil {
		return false
	}
	digest := blake2b.Sum256([]byte(capsule.Payload))
	return ed25519.Verify(public, digest[:], signature)
}

// canonicalize produces stable bytes for signing: object keys sorted, no
// insignificant whitespace. Round-tripping through a map gives us encoding/
// json's sorted-key output regardless of the payload's struct field order.
func canonicalize(payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}
