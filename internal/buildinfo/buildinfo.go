// Package buildinfo reports the running binary's version. Version, Commit
// and BuiltAt are set with -ldflags "-X viasync/internal/buildinfo.Version=...".
package buildinfo

import "runtime/debug"

var (
    Version = "dev"
    Commit  = ""
    BuiltAt = ""
)

// Info returns the linker-set values, falling back to the VCS stamp the Go
// toolchain embeds when Commit was not set.
func Info() map[string]string {
    out := map[string]string{
        "version": Version,
        "commit":  Commit,
        "builtAt": BuiltAt,
    }
    if bi, ok := debug.ReadBuildInfo(); ok {
        out["go"] = bi.GoVersion
        for _, s := range bi.Settings {
            switch s.Key {
            case "vcs.revision":
                if out["commit"] == "" { out["commit"] = s.Value }
            case "vcs.time":
                if out["builtAt"] == "" { out["builtAt"] = s.Value }
            }
        }
    }
    return out
}
