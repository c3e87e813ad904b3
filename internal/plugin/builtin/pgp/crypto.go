package pgp

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"

	"toolbox/internal/toolerr"
)

// Key types accepted by /pgp gen.
const (
	KeyECC     = "ecc"
	KeyRSA4096 = "rsa4096"
	KeyRSA2048 = "rsa2048"
)

const maxPlaintext = 1 << 20

// KeyOptions describes a key pair to generate.
type KeyOptions struct {
	Name       string
	Email      string
	Type       string
	Passphrase string
}

// KeyPair is a generated or stored key pair with armored keys.
type KeyPair struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Created     string `json:"created"`
	PublicKey   string `json:"publicKey"`
	SecretKey   string `json:"secretKey"`
	Type        string `json:"type,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

func keyConfig(typ string, now time.Time) (*packet.Config, error) {
	cfg := &packet.Config{Time: func() time.Time { return now }}
	switch typ {
	case KeyECC:
		cfg.Algorithm = packet.PubKeyAlgoEdDSA
		cfg.Curve = packet.Curve25519
	case KeyRSA4096:
		cfg.Algorithm = packet.PubKeyAlgoRSA
		cfg.RSABits = 4096
	case KeyRSA2048:
		cfg.Algorithm = packet.PubKeyAlgoRSA
		cfg.RSABits = 2048
	default:
		return nil, toolerr.Validation("key type must be ecc, rsa4096 or rsa2048")
	}
	return cfg, nil
}

// Generate creates a key pair. The secret key is locked with the passphrase
// when one is given.
func Generate(o KeyOptions, now time.Time) (KeyPair, error) {
	if strings.ContainsAny(o.Name+o.Email, "()<>\x00") {
		return KeyPair{}, toolerr.Validation("name and email must not contain ( ) < >")
	}
	cfg, err := keyConfig(o.Type, now)
	if err != nil {
		return KeyPair{}, err
	}
	e, err := openpgp.NewEntity(o.Name, "", o.Email, cfg)
	if err != nil {
		return KeyPair{}, toolerr.Wrap(toolerr.Internal, "key generation failed", err)
	}
	pub, err := armored(openpgp.PublicKeyType, e.Serialize)
	if err != nil {
		return KeyPair{}, toolerr.Wrap(toolerr.Internal, "public key export failed", err)
	}
	if o.Passphrase != "" {
		if err := e.EncryptPrivateKeys([]byte(o.Passphrase), cfg); err != nil {
			return KeyPair{}, toolerr.Wrap(toolerr.Internal, "locking the secret key failed", err)
		}
	}
	sec, err := armored(openpgp.PrivateKeyType, func(w io.Writer) error {
		return e.SerializePrivateWithoutSigning(w, cfg)
	})
	if err != nil {
		return KeyPair{}, toolerr.Wrap(toolerr.Internal, "secret key export failed", err)
	}
	return KeyPair{
		Name:        o.Name,
		Email:       o.Email,
		PublicKey:   pub,
		SecretKey:   sec,
		Type:        o.Type,
		Fingerprint: fmt.Sprintf("%X", e.PrimaryKey.Fingerprint),
	}, nil
}

func armored(blockType string, write func(io.Writer) error) (string, error) {
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, blockType, nil)
	if err != nil {
		return "", err
	}
	if err := write(w); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func readKeyRing(armoredKey string) (openpgp.EntityList, error) {
	ring, err := openpgp.ReadArmoredKeyRing(strings.NewReader(strings.TrimSpace(armoredKey)))
	if err != nil {
		return nil, toolerr.Decode("not a valid armored PGP key", err)
	}
	if len(ring) == 0 {
		return nil, toolerr.Decode("the key block holds no keys", nil)
	}
	return ring, nil
}

// Encrypt encrypts plaintext to every key in the armored public key block.
func Encrypt(publicKey, plaintext string) (string, error) {
	if strings.TrimSpace(publicKey) == "" {
		return "", toolerr.Validation("a public key is required")
	}
	if strings.TrimSpace(plaintext) == "" {
		return "", toolerr.Validation("enter the text to encrypt")
	}
	ring, err := readKeyRing(publicKey)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	aw, err := armor.Encode(&buf, "PGP MESSAGE", nil)
	if err != nil {
		return "", toolerr.Wrap(toolerr.Internal, "armor failed", err)
	}
	pw, err := openpgp.Encrypt(aw, ring, nil, &openpgp.FileHints{}, nil)
	if err != nil {
		return "", toolerr.Decode("cannot encrypt to this key", err)
	}
	if _, err := io.WriteString(pw, plaintext); err != nil {
		return "", toolerr.Wrap(toolerr.Internal, "encrypt failed", err)
	}
	if err := pw.Close(); err != nil {
		return "", toolerr.Wrap(toolerr.Internal, "encrypt failed", err)
	}
	if err := aw.Close(); err != nil {
		return "", toolerr.Wrap(toolerr.Internal, "armor failed", err)
	}
	return buf.String(), nil
}

// Decrypt opens an armored message with the armored secret key, unlocking
// it with passphrase when the key is protected.
func Decrypt(secretKey, message, passphrase string) (string, error) {
	if strings.TrimSpace(secretKey) == "" {
		return "", toolerr.Validation("a secret key is required")
	}
	if strings.TrimSpace(message) == "" {
		return "", toolerr.Validation("enter the encrypted message")
	}
	ring, err := readKeyRing(secretKey)
	if err != nil {
		return "", err
	}
	for _, e := range ring {
		if e.PrivateKey == nil {
			return "", toolerr.Validation("that is a public key, the secret key is needed to decrypt")
		}
		if !e.PrivateKey.Encrypted {
			continue
		}
		if passphrase == "" {
			return "", toolerr.Validation("the secret key is protected, add --pass <passphrase>")
		}
		if err := e.DecryptPrivateKeys([]byte(passphrase)); err != nil {
			return "", toolerr.Decode("wrong passphrase", err)
		}
	}

	block, err := armor.Decode(strings.NewReader(strings.TrimSpace(message)))
	if err != nil {
		return "", toolerr.Decode("not an armored PGP message", err)
	}
	md, err := openpgp.ReadMessage(block.Body, ring, nil, nil)
	if err != nil {
		return "", toolerr.Decode("cannot decrypt with this key", err)
	}
	b, err := io.ReadAll(io.LimitReader(md.UnverifiedBody, maxPlaintext+1))
	if err != nil {
		return "", toolerr.Decode("message is corrupt", err)
	}
	if len(b) > maxPlaintext {
		return "", toolerr.Validation("decrypted message is larger than 1 MiB")
	}
	return string(b), nil
}
