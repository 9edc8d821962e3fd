package activity

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/upb/activity-sync/models"
)

// DeriveKey returns the delivery key used to recognise a redelivered
// webhook. An explicit event id wins; otherwise the key hashes the fields
// that identify one occurrence. Events with no occurrence time and no id
// get an empty key and are never deduplicated, since two genuine logins
// would be indistinguishable.
func DeriveKey(evt models.IdentityEvent) string {
	if evt.EventID != "" {
		return "id:" + evt.EventID
	}
	if evt.OccurredAt == 0 {
		return ""
	}

	sum := sha256.Sum256([]byte(strings.Join([]string{
		string(evt.Action),
		evt.UserID,
		strings.ToLower(evt.Email),
		evt.ClientID,
		strconv.FormatInt(evt.OccurredAt, 10),
	}, "|")))
	return "sha256:" + hex.EncodeToString(sum[:])
}
