package config

// CategoryWeights orders command categories in the help listing.
var CategoryWeights = map[string]int{
	"🎶 Playback":    0,
	"📋 Queue":       10,
	"⚙️ Settings":    20,
	"🛠️ Maintenance": 30,
}
