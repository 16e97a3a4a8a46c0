package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Sign computes the HMAC-SHA256 tag over the signed region and returns it as
// lowercase hex. The signed region is the ordered concatenation, with no
// separator, of the device identifier, the decimal timestamp, the message
// identifier, and the payload exactly as serialized by the sender.
//
// Backend-originated commands omit the device identifier from the signed
// region; callers on the command path pass deviceID == "". The device verifies
// such tags using its own identity implicitly.
func Sign(deviceID string, timestamp int64, messageID string, payload, secret []byte) string {
	return hex.EncodeToString(tag(deviceID, timestamp, messageID, payload, secret))
}

// Verify recomputes the tag over the signed region and compares it against
// sigHex in constant time. A signature that is not exactly 64 hex characters
// never verifies.
func Verify(deviceID string, timestamp int64, messageID string, payload, secret []byte, sigHex string) bool {
	want, err := hex.DecodeString(sigHex)
	if err != nil || len(want) != sha256.Size {
		return false
	}
	got := tag(deviceID, timestamp, messageID, payload, secret)
	return hmac.Equal(got, want)
}

func tag(deviceID string, timestamp int64, messageID string, payload, secret []byte) []byte {
	h := hmac.New(sha256.New, secret)
	_, _ = h.Write([]byte(deviceID))
	_, _ = h.Write([]byte(strconv.FormatInt(timestamp, 10)))
	_, _ = h.Write([]byte(messageID))
	_, _ = h.Write(payload)
	return h.Sum(nil)
}
