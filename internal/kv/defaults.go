package kv

import (
	"context"
	"errors"
)

const (
	defaultsKey    = "defaults_inited"
	defaultsMarker = "inited"
)

// Defaults are the settings a fresh cluster starts with.
var Defaults = []struct{ Key, Value string }{
	{"config/server_name", "Multidustry"},
	{"config/default_world_map_name", "HUB"},
	{"config/version", "-1"},
	{"config/version_type", "multidustry"},
	{"config/player_limit", "0"},
	{"config/description", "Multidustry - best mindustry server implementation"},
	{"config/custom_gamemode", "HUB"},
	{"stats/total_players", "0"},
}

// InitDefaults seeds Defaults once per store. Later calls leave operator
// changes alone. It reports whether it seeded anything.
func InitDefaults(ctx context.Context, s Store) (bool, error) {
	v, err := s.Get(ctx, defaultsKey)
	switch {
	case err == nil && string(v) == defaultsMarker:
		return false, nil
	case err != nil && !errors.Is(err, ErrNotFound):
		return false, err
	}
	if err := s.Put(ctx, defaultsKey, []byte(defaultsMarker)); err != nil {
		return false, err
	}
	for _, d := range Defaults {
		if err := s.Put(ctx, d.Key, []byte(d.Value)); err != nil {
			return true, err
		}
	}
	return true, nil
}

// GetString returns the value at key as a string, or "" when it is missing
// or unreadable.
func GetString(ctx context.Context, s Store, key string) string {
	v, err := s.Get(ctx, key)
	if err != nil {
		return ""
	}
	return string(v)
}
