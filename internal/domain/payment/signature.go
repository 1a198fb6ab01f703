package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign computes the gateway callback signature: hex(HMAC-SHA256(secret, orderID|transactionID)).
func Sign(secret, gatewayOrderID, transactionID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(gatewayOrderID + "|" + transactionID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares in constant time.
func VerifySignature(secret string, cb Callback) error {
	expected := Sign(secret, cb.GatewayOrderID, cb.TransactionID)
	if cb.Signature == "" || !hmac.Equal([]byte(expected), []byte(cb.Signature)) {
		return &InvalidSignatureError{GatewayOrderID: cb.GatewayOrderID}
	}
	return nil
}
