//go:build linux

package driver

import (
	"os"
	"strconv"
	"strings"
)

// commandName reads the short command name of pid from procfs.
func commandName(pid int) (string, error) {
	data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/comm")
	if err != nil {
		return "", err
	}
	return nonEmptyName(pid, strings.TrimSpace(string(data)))
}
