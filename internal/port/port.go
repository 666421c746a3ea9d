// Package port picks the loopback port the backend listens on.
package port

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"strconv"
)

// ErrInUse is returned when a configured port is already bound.
var ErrInUse = errors.New("port already in use")

// Dynamic port range used when the configured port is 0.
const (
	MinDynamic = 20000
	MaxDynamic = 32000
)

// Resolve returns configured if it can be bound, or a free port from the
// dynamic range when configured is 0.
func Resolve(configured int) (int, error) {
	if configured == 0 {
		return Free(MinDynamic, MaxDynamic)
	}
	if !Available(configured) {
		return 0, fmt.Errorf("backend port %d: %w", configured, ErrInUse)
	}
	return configured, nil
}

// Free picks a bindable port in [minPort, maxPort], trying random ports
// first and then scanning.
func Free(minPort, maxPort int) (int, error) {
	rangeSize := maxPort - minPort + 1
	if rangeSize <= 0 {
		return 0, fmt.Errorf("invalid port range %d-%d", minPort, maxPort)
	}
	for attempts := 0; attempts < 64; attempts++ {
		p := minPort + rand.IntN(rangeSize)
		if Available(p) {
			return p, nil
		}
	}
	for p := minPort; p <= maxPort; p++ {
		if Available(p) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("no available ports in range %d-%d", minPort, maxPort)
}

// Available reports whether port can be bound on 127.0.0.1.
func Available(port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
