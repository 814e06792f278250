package bitget

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"sync"
	"time"

	"quant_go/internal/domain"
)

// Credentials is the key material for one account.
type Credentials struct {
	AccessKey  string
	SecretKey  string
	Passphrase string
}

// Signer builds and signs authenticated request payloads. Key material is
// loaded lazily on the first signing attempt so read-only operation never
// requires credentials. Keys live as []byte to allow memory wiping.
//
// The pre-image is timestamp + method + path + query + body, HMAC-SHA256,
// base64. Timestamps are strictly increasing: two signs within the same
// millisecond bump the nonce, so retried payloads are never byte-identical.
type Signer struct {
	mu         sync.Mutex
	load       func() (Credentials, error)
	loaded     bool
	accessKey  []byte
	secretKey  []byte
	passphrase []byte

	now       func() time.Time // injectable for deterministic test signatures
	lastNonce int64
}

// NewSigner creates a signer whose credentials come from load on first use.
func NewSigner(load func() (Credentials, error)) *Signer {
	return &Signer{load: load, now: time.Now}
}

// StaticCredentials adapts fixed key material into a loader.
func StaticCredentials(c Credentials) func() (Credentials, error) {
	return func() (Credentials, error) { return c, nil }
}

// Sign produces the auth headers for one request. It fails with
// ErrSignerRequired when no credentials are available. Neither the key nor
// the pre-image is ever logged.
func (s *Signer) Sign(method, path, query, body string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoadedLocked(); err != nil {
		return nil, err
	}

	nonce := s.nextNonceLocked()
	timestamp := strconv.FormatInt(nonce, 10)

	payload := timestamp + method + path + query + body
	mac := hmac.New(sha256.New, s.secretKey)
	mac.Write([]byte(payload))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return map[string]string{
		"ACCESS-KEY":        string(s.accessKey),
		"ACCESS-SIGN":       signature,
		"ACCESS-TIMESTAMP":  timestamp,
		"ACCESS-PASSPHRASE": string(s.passphrase),
		"Content-Type":      "application/json",
		"locale":            "en-US",
	}, nil
}

func (s *Signer) ensureLoadedLocked() error {
	if s.loaded {
		return nil
	}
	if s.load == nil {
		return domain.ErrSignerRequired
	}
	creds, err := s.load()
	if err != nil {
		return err
	}
	if creds.AccessKey == "" || creds.SecretKey == "" {
		return domain.ErrSignerRequired
	}
	s.accessKey = []byte(creds.AccessKey)
	s.secretKey = []byte(creds.SecretKey)
	s.passphrase = []byte(creds.Passphrase)
	s.loaded = true
	return nil
}

// nextNonceLocked returns a strictly increasing millisecond nonce.
func (s *Signer) nextNonceLocked() int64 {
	nonce := s.now().UnixMilli()
	if nonce <= s.lastNonce {
		nonce = s.lastNonce + 1
	}
	s.lastNonce = nonce
	return nonce
}

// Wipe clears the keys from memory.
func (s *Signer) Wipe() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	wipeSlice(s.accessKey)
	wipeSlice(s.secretKey)
	wipeSlice(s.passphrase)
	s.accessKey, s.secretKey, s.passphrase = nil, nil, nil
	s.loaded = false
}

func wipeSlice(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
