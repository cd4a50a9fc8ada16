package types

// Version is the canonical project version.
// The CLI and the control-channel message set share this version; it is
// reported to peers in clientAnnounce.
const Version = "0.3.0"
