package pop3

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"
)

// apopBanner builds the unique challenge string offered in the greeting
// banner for APOP (RFC 1939 §7): "<random.pid.timestamp@hostname>". The
// adapter computes MD5(timestamp + shared-secret) against whatever the
// client sends back as the APOP digest.
func apopBanner(hostname string) string {
	var nonce [8]byte
	_, _ = rand.Read(nonce[:])
	return fmt.Sprintf("<%s.%d.%d@%s>", hex.EncodeToString(nonce[:]), os.Getpid(), time.Now().UnixNano(), hostname)
}
