//go:build linux

package fsops

import (
	"os"
	"syscall"
	"time"
)

// fileTimes extracts creation and access times from the stat buffer.
// Linux exposes no birth time through Stat_t; the inode change time is
// the closest available stand-in.
func fileTimes(info os.FileInfo) (created, accessed time.Time) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return time.Time{}, time.Time{}
	}
	return time.Unix(st.Ctim.Sec, st.Ctim.Nsec), time.Unix(st.Atim.Sec, st.Atim.Nsec)
}
