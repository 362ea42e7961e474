package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DownloadClaims are the facts carried by a download token.
type DownloadClaims struct {
	JobID     string
	OwnerID   string
	Path      string
	ExpiresAt time.Time
}

// SignedURLSigner creates and validates signed download tokens bound to the
// job owner.
type SignedURLSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSignedURLSigner constructs a signer with the provided secret and TTL.
func NewSignedURLSigner(secret string, ttl time.Duration) *SignedURLSigner {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SignedURLSigner{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Generate returns a signed token referencing the job, its owner and the file path.
func (s *SignedURLSigner) Generate(jobID, ownerID, relPath string) (string, time.Time, error) {
	if jobID == "" || ownerID == "" || relPath == "" {
		return "", time.Time{}, fmt.Errorf("jobID, ownerID and relPath required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := s.now().Add(s.ttl)
	ts := strconv.FormatInt(expiresAt.Unix(), 10)
	owner := base64.RawURLEncoding.EncodeToString([]byte(ownerID))
	encodedPath := base64.RawURLEncoding.EncodeToString([]byte(relPath))
	signature := s.sign(jobID, owner, ts, encodedPath)
	token := strings.Join([]string{jobID, owner, ts, encodedPath, signature}, ".")
	return token, expiresAt, nil
}

// Parse validates a token and returns the embedded claims.
func (s *SignedURLSigner) Parse(token string) (DownloadClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 5 {
		return DownloadClaims{}, fmt.Errorf("invalid token format")
	}
	jobID, owner, ts, encodedPath, signature := parts[0], parts[1], parts[2], parts[3], parts[4]

	expected := s.sign(jobID, owner, ts, encodedPath)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return DownloadClaims{}, fmt.Errorf("invalid token signature")
	}

	rawOwner, err := base64.RawURLEncoding.DecodeString(owner)
	if err != nil {
		return DownloadClaims{}, fmt.Errorf("decode owner: %w", err)
	}
	rawPath, err := base64.RawURLEncoding.DecodeString(encodedPath)
	if err != nil {
		return DownloadClaims{}, fmt.Errorf("decode path: %w", err)
	}
	expUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return DownloadClaims{}, fmt.Errorf("invalid timestamp")
	}
	expiresAt := time.Unix(expUnix, 0)
	if s.now().After(expiresAt) {
		return DownloadClaims{}, fmt.Errorf("token expired")
	}
	return DownloadClaims{JobID: jobID, OwnerID: string(rawOwner), Path: string(rawPath), ExpiresAt: expiresAt}, nil
}

func (s *SignedURLSigner) sign(parts ...string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(mac.Sum(nil))
}
