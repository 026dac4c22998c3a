package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/Domenick1991/guardbooking/internal/domain"
)

// VerifySignature checks header against an HMAC-SHA256 of payload keyed with
// secret. header is either the bare hex digest, or "t=<unix>,v1=<hex>" where
// the digest covers "<unix>.<payload>" and the timestamp must be within
// tolerance of now. A zero tolerance disables the timestamp check.
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	if secret == "" {
		return domain.Configuration(errors.New("webhook signing secret is not configured"))
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return domain.SignatureInvalid("missing signature")
	}

	if !strings.Contains(header, "=") {
		return compareMAC(sign(secret, payload), header)
	}

	var ts string
	var candidates []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			candidates = append(candidates, v)
		}
	}
	if ts == "" || len(candidates) == 0 {
		return domain.SignatureInvalid("malformed signature header")
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return domain.SignatureInvalid("malformed signature timestamp")
	}
	if tolerance > 0 {
		age := now.Sub(time.Unix(unix, 0))
		if age < 0 {
			age = -age
		}
		if age > tolerance {
			return domain.SignatureInvalid("signature timestamp outside tolerance")
		}
	}

	expected := sign(secret, []byte(ts+"."), payload)
	for _, c := range candidates {
		if compareMAC(expected, c) == nil {
			return nil
		}
	}
	return domain.SignatureInvalid("signature mismatch")
}

// Sign produces a "t=<unix>,v1=<hex>" header for payload.
func Sign(payload []byte, secret string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "t=" + ts + ",v1=" + hex.EncodeToString(sign(secret, []byte(ts+"."), payload))
}

// SignRaw produces the bare hex form.
func SignRaw(payload []byte, secret string) string {
	return hex.EncodeToString(sign(secret, payload))
}

func sign(secret string, parts ...[]byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	for _, p := range parts {
		mac.Write(p)
	}
	return mac.Sum(nil)
}

func compareMAC(expected []byte, got string) error {
	decoded, err := hex.DecodeString(strings.TrimSpace(got))
	if err != nil {
		return domain.SignatureInvalid("signature is not hex")
	}
	if !hmac.Equal(expected, decoded) {
		return domain.SignatureInvalid("signature mismatch")
	}
	return nil
}
