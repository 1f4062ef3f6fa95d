// Package device provides device identifiers for store passphrase derivation.
package device

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ericfisherdev/trustkit/internal/domain/port/driven"
)

// ErrNoDeviceID is returned when no identifier source yields a value.
var ErrNoDeviceID = errors.New("no device identifier available")

var (
	_ driven.DeviceIDProvider = Static("")
	_ driven.DeviceIDProvider = MachineID{}
)

// Static is a fixed, configured device identifier.
type Static string

// DeviceID returns the configured identifier.
func (s Static) DeviceID(_ context.Context) (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", ErrNoDeviceID
	}
	return string(s), nil
}

// DefaultMachineIDPaths are consulted in order by MachineID.
var DefaultMachineIDPaths = []string{"/etc/machine-id", "/var/lib/dbus/machine-id"}

// MachineID reads the host's machine id from the first readable path.
type MachineID struct {
	Paths []string // nil means DefaultMachineIDPaths
}

// DeviceID returns the first non-empty machine id found.
func (m MachineID) DeviceID(_ context.Context) (string, error) {
	paths := m.Paths
	if paths == nil {
		paths = DefaultMachineIDPaths
	}

	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: tried %s", ErrNoDeviceID, strings.Join(paths, ", "))
}
