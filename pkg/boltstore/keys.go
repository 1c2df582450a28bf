package boltstore

import (
	"bytes"
	"encoding/binary"

	"github.com/crystal-mush/mushchat/pkg/chatdb"
)

// Bucket name constants for bbolt storage.
var (
	bucketMeta       = []byte("meta")
	bucketPlayerData = []byte("playerdata")
)

// Meta key constants.
var (
	keyVersion = []byte("version")
)

// schemaVersion is written to the meta bucket on first open.
const schemaVersion = 1

// sep separates player and key in a playerdata key. Player ids and keys
// never contain NUL.
const sep = 0x00

// dataKey returns the bbolt key for one player value: "player\x00key".
func dataKey(player chatdb.PlayerID, key string) []byte {
	buf := make([]byte, 0, len(player)+1+len(key))
	buf = append(buf, player...)
	buf = append(buf, sep)
	return append(buf, key...)
}

// playerPrefix returns the key prefix shared by all of a player's values.
func playerPrefix(player chatdb.PlayerID) []byte {
	return append([]byte(player), sep)
}

// splitKey reverses dataKey.
func splitKey(k []byte) (chatdb.PlayerID, string, bool) {
	i := bytes.IndexByte(k, sep)
	if i < 0 {
		return "", "", false
	}
	return chatdb.PlayerID(k[:i]), string(k[i+1:]), true
}

// intToKey converts an int to an 8-byte big-endian value.
func intToKey(n int) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(n))
	return buf
}

// keyToInt converts an 8-byte big-endian value back to an int.
func keyToInt(b []byte) int {
	return int(binary.BigEndian.Uint64(b))
}
