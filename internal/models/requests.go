package models

// SourceRequest selects the target active source. Target == SourceNone
// requests deactivation of whatever is currently active.
type SourceRequest struct {
	Target AudioSource `json:"target"`
}

// CommandRequest carries a plugin-specific command (play/pause/next/seek/...)
// for the plugin named in the request path, whether or not it is the
// active source.
type CommandRequest struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// RoutingRequest updates the routing mode and/or equalizer flag. Pointer
// fields distinguish "not present" from "set to zero value", matching the
// teacher's partial-update DTO convention.
type RoutingRequest struct {
	Mode      *RoutingMode `json:"mode,omitempty"`
	Equalizer *bool        `json:"equalizer,omitempty"`
}

// VolumeRequest updates a single target's volume. Exactly one of LevelDB or
// DeltaDB should be set; Muted is independent of either.
type VolumeRequest struct {
	LevelDB *float64 `json:"level_db,omitempty"`
	DeltaDB *float64 `json:"delta_db,omitempty"`
	Muted   *bool    `json:"muted,omitempty"`
}

// SettingsPutRequest carries a raw JSON value to assign at a dot-path key,
// e.g. PUT /settings/spotify.auto_disconnect_delay {"value": 300}.
type SettingsPutRequest struct {
	Value interface{} `json:"value"`
}
