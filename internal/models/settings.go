package models

// Settings is the persisted configuration document (settings.json). Field
// names mirror the dot-path keys the settings store exposes over the API,
// grouped the way spec.md §6 groups them.
type Settings struct {
	Language string         `json:"language"`
	Volume   VolumeSettings `json:"volume"`
	Dock     DockSettings   `json:"dock"`
	Spotify  SpotifySettings `json:"spotify"`
	Podcast  PodcastSettings `json:"podcast"`
	Screen   ScreenSettings  `json:"screen"`
	Routing  RoutingState    `json:"routing"`
	Hardware HardwareSettings `json:"hardware"`
}

type VolumeSettings struct {
	MinDB             float64 `json:"min_db"`
	MaxDB             float64 `json:"max_db"`
	StartupVolumeDB   float64 `json:"startup_volume_db"`
	StepMobileDB      float64 `json:"step_mobile_db"`
	StepRotaryDB      float64 `json:"step_rotary_db"`
	RestoreLastVolume bool    `json:"restore_last_volume"`
}

func (v VolumeSettings) Limits() VolumeLimits {
	return VolumeLimits{MinDB: v.MinDB, MaxDB: v.MaxDB}
}

type DockSettings struct {
	EnabledApps []string `json:"enabled_apps"`
}

type SpotifySettings struct {
	AutoDisconnectDelay int `json:"auto_disconnect_delay"` // seconds
}

type PodcastSettings struct {
	UserID string `json:"user_id"`
	APIKey string `json:"api_key"`
}

type ScreenSettings struct {
	TimeoutEnabled bool `json:"timeout_enabled"`
	TimeoutSeconds int  `json:"timeout_seconds"`
	BrightnessOn   int  `json:"brightness_on"` // 0-100 PWM duty cycle
}

type HardwareSettings struct {
	Screen string `json:"screen"` // e.g. "waveshare-3.5", "none"
}

// DefaultSettings mirrors the teacher's models.DefaultState constructor:
// conservative, safe-to-boot-with values.
func DefaultSettings() Settings {
	return Settings{
		Language: "en",
		Volume: VolumeSettings{
			MinDB:             -60,
			MaxDB:             0,
			StartupVolumeDB:   -20,
			StepMobileDB:      2,
			StepRotaryDB:      1,
			RestoreLastVolume: true,
		},
		Dock: DockSettings{EnabledApps: []string{"spotify", "bluetooth", "lan", "radio", "podcast"}},
		Spotify: SpotifySettings{
			AutoDisconnectDelay: 600,
		},
		Podcast: PodcastSettings{},
		Screen: ScreenSettings{
			TimeoutEnabled: true,
			TimeoutSeconds: 30,
			BrightnessOn:   80,
		},
		Routing: RoutingState{Mode: ModeDirect, Equalizer: false},
		Hardware: HardwareSettings{
			Screen: "none",
		},
	}
}
