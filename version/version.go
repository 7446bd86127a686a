// Package version reports how the strata binary was built.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Overridden with -ldflags "-X github.com/teranos/strata/version.Version=v1.2.3".
// Commit and Date fall back to the VCS stamp Go embeds in module builds.
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// Info describes the running binary
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	Date      string `json:"date,omitempty"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Get returns the build information of the running binary.
func Get() Info {
	info := Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info.fill(bi)
	}
	return info
}

// fill completes fields the linker flags left empty
func (i *Info) fill(bi *debug.BuildInfo) {
	if i.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		i.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if i.Commit == "" {
				i.Commit = s.Value
			}
		case "vcs.time":
			if i.Date == "" {
				i.Date = s.Value
			}
		case "vcs.modified":
			i.Modified = s.Value == "true"
		}
	}
}

// ShortCommit returns the first seven characters of the commit.
func (i Info) ShortCommit() string {
	if len(i.Commit) > 7 {
		return i.Commit[:7]
	}
	return i.Commit
}

// String renders "strata <version> (<commit>[+dirty], <date>)".
func (i Info) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "strata %s", i.Version)
	if i.Commit == "" {
		return b.String()
	}
	b.WriteString(" (")
	b.WriteString(i.ShortCommit())
	if i.Modified {
		b.WriteString("+dirty")
	}
	if i.Date != "" {
		b.WriteString(", ")
		b.WriteString(i.Date)
	}
	b.WriteString(")")
	return b.String()
}
