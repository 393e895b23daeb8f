package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

var (
	ErrMissingSignature = errors.New("missing webhook signature")
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// signatureHeader 携带 "sha256=<hex>" 格式的 HMAC。
const signatureHeader = "X-Hub-Signature-256"

// VerifySignature 校验 Meta 使用 App Secret 对请求体计算的 HMAC-SHA256。
func VerifySignature(appSecret, signature string, body []byte) error {
	if signature == "" {
		return ErrMissingSignature
	}
	got, ok := strings.CutPrefix(signature, "sha256=")
	if !ok {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(appSecret))
	_, _ = mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(got))) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign 计算签名头的值，供测试和联调工具使用。
func Sign(appSecret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(appSecret))
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
