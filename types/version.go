package types

// Version is the canonical project version.
// The CLI and the wire frame contract share this version; wire peers with a
// different major version are not guaranteed to interoperate.
const Version = "0.2.0"
