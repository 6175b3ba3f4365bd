package tun

import (
	"fmt"
	"slices"

	psnet "github.com/shirou/gopsutil/net"
)

// Counters is the traffic seen on one interface since it was created.
type Counters struct {
	BytesSent   uint64 `json:"bytes_sent"`
	BytesRecv   uint64 `json:"bytes_recv"`
	PacketsSent uint64 `json:"packets_sent"`
	PacketsRecv uint64 `json:"packets_recv"`
}

// InterfaceUp reports whether the named interface exists and is up.
func InterfaceUp(name string) (bool, error) {
	ifaces, err := psnet.Interfaces()
	if err != nil {
		return false, err
	}
	for _, i := range ifaces {
		if i.Name == name {
			return slices.Contains(i.Flags, "up"), nil
		}
	}
	return false, nil
}

// InterfaceCounters reads the kernel counters for name.
func InterfaceCounters(name string) (Counters, error) {
	stats, err := psnet.IOCounters(true)
	if err != nil {
		return Counters{}, err
	}
	for _, s := range stats {
		if s.Name == name {
			return Counters{
				BytesSent:   s.BytesSent,
				BytesRecv:   s.BytesRecv,
				PacketsSent: s.PacketsSent,
				PacketsRecv: s.PacketsRecv,
			}, nil
		}
	}
	return Counters{}, fmt.Errorf("no interface %q", name)
}
