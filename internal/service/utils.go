package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

const (
	referencePrefix  = "TRF"
	referenceCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	referenceLength  = 10
)

// NewReferenceNumber returns TRF + YYYYMMDD + 10 random base62 characters.
func NewReferenceNumber(now time.Time) string {
	suffix := make([]byte, referenceLength)
	max := big.NewInt(int64(len(referenceCharset)))
	for i := range suffix {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
		}
		suffix[i] = referenceCharset[n.Int64()]
	}
	return referencePrefix + now.UTC().Format("20060102") + string(suffix)
}

func stringPtr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
