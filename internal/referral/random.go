package referral

import (
	"crypto/rand"
	"encoding/hex"
)

// randomToken возвращает случайную шестнадцатеричную строку длиной n
func randomToken(n int) string {
	buf := make([]byte, (n+1)/2)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand на практике не возвращает ошибок
		panic(err)
	}
	return hex.EncodeToString(buf)[:n]
}
