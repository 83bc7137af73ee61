// Package store persists session records. BunStore is the durable
// implementation backed by a local sqlite database; Memory backs tests
// and ephemeral processes. Both speak the same JSON wire format the
// record has always been stored in: expiry as a string-encoded
// nanosecond integer, timestamp in milliseconds.
package store

import (
	"encoding/json"
	"strconv"

	icauth "github.com/onicai/go-icauth"
)

const (
	// KeySessionInfo is the canonical session record key.
	KeySessionInfo = "sessionInfo"

	// KeyIsAuthed is the legacy login-type flag, consulted only when
	// the session record is absent.
	KeyIsAuthed = "isAuthed"
)

type sessionInfoWire struct {
	LoginType string `json:"loginType"`
	Expiry    string `json:"expiry"`
	Timestamp int64  `json:"timestamp"`
}

func encodeRecord(rec *icauth.SessionRecord) ([]byte, error) {
	return json.Marshal(sessionInfoWire{
		LoginType: string(rec.LoginType),
		Expiry:    strconv.FormatUint(rec.Expiry, 10),
		Timestamp: rec.CreatedAt,
	})
}

func decodeRecord(raw []byte) (*icauth.SessionRecord, error) {
	var wire sessionInfoWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, err
	}
	loginType, err := icauth.ParseLoginType(wire.LoginType)
	if err != nil {
		return nil, err
	}
	expiry, err := strconv.ParseUint(wire.Expiry, 10, 64)
	if err != nil {
		return nil, err
	}
	return &icauth.SessionRecord{
		LoginType: loginType,
		Expiry:    expiry,
		CreatedAt: wire.Timestamp,
	}, nil
}
