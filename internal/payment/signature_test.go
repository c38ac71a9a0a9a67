package payment

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignCanonicalString(t *testing.T) {
	fields := map[string]any{
		"status":    "paid",
		"order_id":  "ORD_1",
		"amount":    "29.99",
		"signature": "ignored",
	}
	sum := md5.Sum([]byte("amount=29.99&order_id=ORD_1&status=paid&key=s3cret"))
	want := strings.ToUpper(hex.EncodeToString(sum[:]))

	assert.Equal(t, want, Sign(fields, "s3cret"))
}

func TestVerifyKeepsNumberText(t *testing.T) {
	body := []byte(`{"order_id":"ORD_1","status":"paid","amount":29.90,"timestamp":1700000000}`)
	payload, err := DecodePayload(body)
	require.NoError(t, err)

	sum := md5.Sum([]byte("amount=29.90&order_id=ORD_1&status=paid&timestamp=1700000000&key=k"))
	sig := hex.EncodeToString(sum[:])

	assert.True(t, Verify(payload, sig, "k"), "lower-case hex is accepted")
	assert.False(t, Verify(payload, sig, "other"))
	assert.False(t, Verify(payload, "", "k"))

	payload["status"] = "failed"
	assert.False(t, Verify(payload, sig, "k"))
}

func TestDecodePayloadRejectsNonObject(t *testing.T) {
	_, err := DecodePayload([]byte(`null`))
	assert.Error(t, err)
	_, err = DecodePayload([]byte(`{`))
	assert.Error(t, err)
}
