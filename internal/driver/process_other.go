//go:build !darwin && !linux

package driver

import "errors"

func commandName(pid int) (string, error) {
	return "", errors.ErrUnsupported
}
