// Package imgproxy builds signed imgproxy transformer URLs.
//
// The generated URL points an imgproxy deployment at a backing image and
// encodes the requested resize/format transformation in the path. The path
// is authenticated with HMAC-SHA256 over salt||path so the CDN rejects
// tampered transformations.
package imgproxy

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// Signer produces deterministic signed imgproxy URLs
type Signer struct {
	key     []byte
	salt    []byte
	baseURL string
}

// NewSigner creates a Signer from hex-encoded key and salt.
// Fails if either secret is not valid hex or is empty.
func NewSigner(hexKey, hexSalt, baseURL string) (*Signer, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid imgproxy key: %w", err)
	}
	salt, err := hex.DecodeString(hexSalt)
	if err != nil {
		return nil, fmt.Errorf("invalid imgproxy salt: %w", err)
	}
	if len(key) == 0 || len(salt) == 0 {
		return nil, fmt.Errorf("imgproxy key and salt must be non-empty")
	}

	return &Signer{
		key:     key,
		salt:    salt,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}, nil
}

// SignURL builds the signed transformer URL for an image.
// Path layout: /resize:fit:{w}:{h}/format:{fmt}/{b64url(image_url)} with
// URL-safe unpadded base64, then {base}/{mac}{path}.
func (s *Signer) SignURL(imageURL string, width, height int, format string) string {
	encoded := base64.RawURLEncoding.EncodeToString([]byte(imageURL))
	path := fmt.Sprintf("/resize:fit:%d:%d/format:%s/%s", width, height, format, encoded)
	return fmt.Sprintf("%s/%s%s", s.baseURL, s.sign(path), path)
}

// sign computes the URL-safe unpadded base64 HMAC-SHA256 of salt||path
func (s *Signer) sign(path string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(s.salt)
	mac.Write([]byte(path))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
