package version

import "runtime/debug"

// version is overridden at build time:
//
//	go build -ldflags "-X github.com/vinodismyname/leverlab/pkg/version.version=v1.2.0"
var version = "dev"

// Version returns the ldflags version, else the module version recorded by
// `go install`, else "dev".
func Version() string {
	if version != "dev" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return version
}
