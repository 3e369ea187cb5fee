package transform

import (
	"strings"

	"github.com/google/uuid"
)

var tokenNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://timebill.local/idempotency"))

// IdempotencyToken derives a stable token from the source entry id, so every
// run and process submits the same entry under the same token.
func IdempotencyToken(sourceEntryID string) string {
	return uuid.NewSHA1(tokenNamespace, []byte("timebill:"+strings.TrimSpace(sourceEntryID))).String()
}
