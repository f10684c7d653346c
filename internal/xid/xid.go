package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

func New(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}

// VoucherNumber returns a short human-presentable voucher number like
// VC-4817-2093. Uniqueness is enforced by the issuer against the sink,
// not here.
func VoucherNumber() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("VC-%d", time.Now().UnixNano()%100000000)
	}
	a := (uint16(buf[0])<<8 | uint16(buf[1])) % 10000
	b := (uint16(buf[2])<<8 | uint16(buf[3])) % 10000
	return fmt.Sprintf("VC-%04d-%04d", a, b)
}
