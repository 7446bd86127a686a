package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfoString(t *testing.T) {
	tests := []struct {
		name string
		info Info
		want string
	}{
		{"no vcs", Info{Version: "dev"}, "strata dev"},
		{"commit", Info{Version: "v0.3.0", Commit: "abcdef1234"}, "strata v0.3.0 (abcdef1)"},
		{"dirty with date", Info{Version: "dev", Commit: "abc", Modified: true, Date: "2026-01-02"}, "strata dev (abc+dirty, 2026-01-02)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.info.String())
		})
	}
}

func TestFillFromBuildInfo(t *testing.T) {
	bi := &debug.BuildInfo{
		Main: debug.Module{Version: "v1.4.0"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef"},
			{Key: "vcs.time", Value: "2026-03-01T10:00:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	}

	info := Info{Version: "dev"}
	info.fill(bi)
	assert.Equal(t, "v1.4.0", info.Version)
	assert.Equal(t, "0123456", info.ShortCommit())
	assert.Equal(t, "2026-03-01T10:00:00Z", info.Date)
	assert.True(t, info.Modified)

	ldflags := Info{Version: "v2.0.0", Commit: "feedbeef"}
	ldflags.fill(bi)
	assert.Equal(t, "v2.0.0", ldflags.Version, "linker flags win")
	assert.Equal(t, "feedbeef", ldflags.Commit)
}

func TestGet(t *testing.T) {
	info := Get()
	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.GoVersion)
	assert.Contains(t, info.Platform, "/")
}
