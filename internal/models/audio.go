// Package models defines the data structures shared across Milō's core
// packages: audio state, routing, volume, podcast progress, and events.
package models

// AudioSource identifies a source plugin. None is the distinguished
// no-source value — at most one non-None source is active at a time.
type AudioSource string

const (
	SourceNone      AudioSource = ""
	SourceSpotify   AudioSource = "spotify"
	SourceBluetooth AudioSource = "bluetooth"
	SourceLAN       AudioSource = "lan"
	SourceRadio     AudioSource = "radio"
	SourcePodcast   AudioSource = "podcast"
)

// Sources lists every concrete plugin source in registry order.
var Sources = []AudioSource{SourceSpotify, SourceBluetooth, SourceLAN, SourceRadio, SourcePodcast}

func (s AudioSource) Valid() bool {
	if s == SourceNone {
		return true
	}
	for _, c := range Sources {
		if c == s {
			return true
		}
	}
	return false
}

// PluginState is the lifecycle of a single plugin.
type PluginState string

const (
	StateInactive  PluginState = "inactive"
	StateStarting  PluginState = "starting"
	StateReady     PluginState = "ready"
	StateConnected PluginState = "connected"
	StateError     PluginState = "error"
	StateStopping  PluginState = "stopping"
)

// RoutingMode selects the output path: straight to the local amplifier or
// through the multiroom transport.
type RoutingMode string

const (
	ModeDirect    RoutingMode = "direct"
	ModeMultiroom RoutingMode = "multiroom"
)

// RoutingState is the ALSA routing configuration in effect.
type RoutingState struct {
	Mode       RoutingMode `json:"mode"`
	Equalizer  bool        `json:"equalizer"`
}

// DeviceSuffix returns the suffix used to build per-source ALSA device
// names: "direct", "direct_eq", "multiroom", "multiroom_eq".
func (r RoutingState) DeviceSuffix() string {
	suffix := string(r.Mode)
	if r.Equalizer {
		suffix += "_eq"
	}
	return suffix
}

// DeviceName returns the fully resolved ALSA PCM name for a source under
// the current routing configuration: milo_<source>_<suffix>.
func (r RoutingState) DeviceName(source AudioSource) string {
	return "milo_" + string(source) + "_" + r.DeviceSuffix()
}

// SystemAudioState is the process-wide singleton owned exclusively by the
// state machine (C7). Metadata is an untyped bag delivered verbatim to
// subscribers; keys are documented per plugin.
type SystemAudioState struct {
	ActiveSource  AudioSource            `json:"active_source"`
	PluginState   PluginState            `json:"plugin_state"`
	Transitioning bool                   `json:"transitioning"`
	Metadata      map[string]interface{} `json:"metadata"`
	Routing       RoutingState           `json:"routing"`
}

// DeepCopy returns an independent copy safe to hand to callers outside the
// state machine's lock.
func (s SystemAudioState) DeepCopy() SystemAudioState {
	next := s
	if s.Metadata != nil {
		next.Metadata = make(map[string]interface{}, len(s.Metadata))
		for k, v := range s.Metadata {
			next.Metadata[k] = v
		}
	}
	return next
}

// DefaultSystemAudioState is the state at cold start: no active source,
// plugin inactive, direct routing with no equalizer.
func DefaultSystemAudioState() SystemAudioState {
	return SystemAudioState{
		ActiveSource: SourceNone,
		PluginState:  StateInactive,
		Metadata:     map[string]interface{}{},
		Routing:      RoutingState{Mode: ModeDirect, Equalizer: false},
	}
}
