package version

// Version is stamped into registry records; override at build time with
// -ldflags "-X .../infra/version.Version=v1.2.3".
var Version = "v0.1.0"
