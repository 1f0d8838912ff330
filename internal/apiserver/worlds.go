package apiserver

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/julienschmidt/httprouter"
)

// fakeWorldCount is how many placeholder worlds ?fake=true returns.
const fakeWorldCount = 9

type WorldStatus string

const (
	WorldRunning   WorldStatus = "Running"
	WorldMigrating WorldStatus = "Migrating"
	WorldStopped   WorldStatus = "Stopped"
	WorldFailed    WorldStatus = "Failed"
)

type ResourceUsage struct {
	CPUPercent float32 `json:"cpu_percent"`
	MemoryMB   uint64  `json:"memory_mb"`
	TickRate   float32 `json:"tick_rate"`
}

type WorldDetail struct {
	MapSize       string        `json:"map_size"`
	GameserverIP  string        `json:"gameserver_ip"`
	ResourceUsage ResourceUsage `json:"resource_usage"`
	CreatedAt     string        `json:"created_at"`
	LastSave      string        `json:"last_save"`
}

type World struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Status      WorldStatus `json:"status"`
	PlayerCount string      `json:"player_count"`
	Gameserver  string      `json:"gameserver"`
	Mode        string      `json:"mode"`
	Uptime      string      `json:"uptime"`
	MapName     string      `json:"map_name"`
	Plugins     []string    `json:"plugins"`
	Detail      WorldDetail `json:"detail"`
}

type WorldsRes struct {
	Worlds []World `json:"worlds"`
}

// handleWorlds lists running worlds. No world scheduler feeds this node yet,
// so the list is empty unless ?fake=true asks for placeholder data.
func (s *Server) handleWorlds(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	fake := false
	if raw := r.URL.Query().Get("fake"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errRes{Error: "fake must be a boolean"})
			return
		}
		fake = v
	}
	res := WorldsRes{Worlds: []World{}}
	if fake {
		for i := 0; i < fakeWorldCount; i++ {
			res.Worlds = append(res.Worlds, fakeWorld(time.Now().UTC()))
		}
	}
	writeJSON(w, http.StatusOK, res)
}

var (
	worldAdjectives = []string{"Survival", "Creative", "PvP", "Hardcore", "Peaceful", "Adventure"}
	worldNouns      = []string{"Valley", "Arena", "Island", "Fortress", "World", "Realm", "Domain"}
	worldModes      = []string{"survival", "creative", "adventure", "spectator", "hardcore"}
	worldStatuses   = []string{string(WorldRunning), string(WorldMigrating), string(WorldStopped), string(WorldFailed)}
	pluginNames     = []string{
		"WorldEdit", "EssentialsX", "Vault", "LuckPerms", "CoreProtect",
		"WorldGuard", "Citizens", "Multiverse-Core", "PlaceholderAPI", "ProtocolLib",
	}
)

func fakeWorld(now time.Time) World {
	players := gofakeit.Number(0, 99)
	limit := gofakeit.Number(max(players, 10), 149)

	plugins := append([]string(nil), pluginNames...)
	gofakeit.ShuffleStrings(plugins)
	plugins = plugins[:gofakeit.Number(3, 7)]

	size := gofakeit.Number(5000, 29999)
	return World{
		ID:          "w_" + gofakeit.Numerify("##########"),
		Name:        gofakeit.RandomString(worldAdjectives) + " " + gofakeit.RandomString(worldNouns),
		Status:      WorldStatus(gofakeit.RandomString(worldStatuses)),
		PlayerCount: fmt.Sprintf("%d/%d", players, limit),
		Gameserver:  "gs-" + strings.ReplaceAll(strings.ToLower(gofakeit.Company()), " ", "-"),
		Mode:        gofakeit.RandomString(worldModes),
		Uptime:      fakeUptime(gofakeit.Number(0, 29), gofakeit.Number(0, 23), gofakeit.Number(0, 59)),
		MapName:     fmt.Sprintf("map_%d", gofakeit.Number(1000000, 9999998)),
		Plugins:     plugins,
		Detail: WorldDetail{
			MapSize:      fmt.Sprintf("%dx%d", size, size),
			GameserverIP: fmt.Sprintf("%s:%d", gofakeit.IPv4Address(), gofakeit.Number(25000, 25999)),
			ResourceUsage: ResourceUsage{
				CPUPercent: gofakeit.Float32Range(5, 95),
				MemoryMB:   uint64(gofakeit.Number(512, 8191)),
				TickRate:   gofakeit.Float32Range(15, 60),
			},
			CreatedAt: now.AddDate(0, 0, -gofakeit.Number(1, 364)).Format(time.RFC3339),
			LastSave:  now.Add(-time.Duration(gofakeit.Number(1, 59)) * time.Minute).Format(time.RFC3339),
		},
	}
}

func fakeUptime(days, hours, minutes int) string {
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
