package coincheck

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"
	"time"
)

// 认证请求头
const (
	HeaderAccessKey       = "ACCESS-KEY"
	HeaderAccessNonce     = "ACCESS-NONCE"
	HeaderAccessSignature = "ACCESS-SIGNATURE"
)

// Sign 计算 Coincheck 私有 API 签名：hex(HMAC-SHA256(secret, nonce + url + body))
func Sign(secret, nonce, fullURL, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(nonce))
	mac.Write([]byte(fullURL))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

// Signer 生成认证头；nonce 为毫秒时间戳且严格递增
type Signer struct {
	apiKey string
	secret string

	mu        sync.Mutex
	lastNonce int64
	now       func() time.Time
}

func NewSigner(apiKey, secret string) *Signer {
	return &Signer{apiKey: apiKey, secret: secret, now: time.Now}
}

func (s *Signer) nextNonce() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.now().UnixMilli()
	if n <= s.lastNonce {
		n = s.lastNonce + 1
	}
	s.lastNonce = n
	return strconv.FormatInt(n, 10)
}

// Headers 为一次请求生成认证头
func (s *Signer) Headers(fullURL, body string) map[string]string {
	nonce := s.nextNonce()
	return map[string]string{
		HeaderAccessKey:       s.apiKey,
		HeaderAccessNonce:     nonce,
		HeaderAccessSignature: Sign(s.secret, nonce, fullURL, body),
	}
}
