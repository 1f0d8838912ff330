// Package discovery answers LAN server-list pings. A game client broadcasts a
// single 0xFE byte and expects the server name, map, player counts and
// description back in one datagram.
package discovery

import (
	"bytes"
	"context"
	"encoding/binary"
	"strconv"

	"github.com/MichaAI/multidustry/internal/kv"
)

const (
	maxNameLen = 100
	maxTypeLen = 64

	// defaultGamemode is what every node advertises until worlds carry their own mode.
	defaultGamemode int8 = 1
)

// Info is the content of a discovery response.
type Info struct {
	ServerName     string
	MapName        string
	Players        int32
	Wave           int32
	Version        int32
	VersionType    string
	Gamemode       int8
	PlayerLimit    int32
	Description    string
	CustomGamemode string
	Port           int16
}

// LoadInfo reads the advertised settings from the config/* and stats/* keys.
// Missing or malformed numbers fall back to the seeded defaults.
func LoadInfo(ctx context.Context, s kv.Store, port int16) Info {
	get := func(key string) string { return kv.GetString(ctx, s, key) }
	num := func(key string, def int32) int32 {
		n, err := strconv.ParseInt(get(key), 10, 32)
		if err != nil {
			return def
		}
		return int32(n)
	}
	return Info{
		ServerName:     get("config/server_name"),
		MapName:        get("config/default_world_map_name"),
		Players:        num("stats/total_players", 0),
		Version:        num("config/version", -1),
		VersionType:    get("config/version_type"),
		Gamemode:       defaultGamemode,
		PlayerLimit:    num("config/player_limit", 0),
		Description:    get("config/description"),
		CustomGamemode: get("config/custom_gamemode"),
		Port:           port,
	}
}

// MarshalBinary encodes the response: big-endian integers and strings
// prefixed by a one byte length.
func (i Info) MarshalBinary() ([]byte, error) {
	var b bytes.Buffer
	writeString(&b, i.ServerName, maxNameLen)
	writeString(&b, i.MapName, maxNameLen)
	_ = binary.Write(&b, binary.BigEndian, i.Players)
	_ = binary.Write(&b, binary.BigEndian, i.Wave)
	_ = binary.Write(&b, binary.BigEndian, i.Version)
	writeString(&b, i.VersionType, maxTypeLen)
	_ = binary.Write(&b, binary.BigEndian, i.Gamemode)
	_ = binary.Write(&b, binary.BigEndian, i.PlayerLimit)
	writeString(&b, i.Description, maxNameLen)
	writeString(&b, i.CustomGamemode, maxTypeLen)
	_ = binary.Write(&b, binary.BigEndian, i.Port)
	return b.Bytes(), nil
}

// writeString cuts s to limit bytes.
func writeString(b *bytes.Buffer, s string, limit int) {
	if len(s) > limit {
		s = s[:limit]
	}
	b.WriteByte(byte(len(s)))
	b.WriteString(s)
}
