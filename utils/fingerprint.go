package utils

import (
	"encoding/hex"
	"encoding/json"

	"github.com/zeebo/blake3"
)

// Fingerprint returns the hex encoded 32-byte blake3 digest of data.
func Fingerprint(data ...[]byte) string {
	h := blake3.New()
	for _, d := range data {
		h.Write(d)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// WeightsFingerprint identifies a weight set independently of its file
// formatting.
func WeightsFingerprint(w *ModelWeights) (string, error) {
	data, err := json.Marshal(w)
	if err != nil {
		return "", err
	}
	return Fingerprint(data), nil
}
