package jscore

// Version is the engine core version. Snapshots embed it and restores
// refuse snapshots produced by an incompatible major version.
const Version = "0.3.0"
