package profile

import (
	"bufio"
	"fmt"
	"io"
	"net/netip"
	"strconv"
	"strings"

	"wgsession/internal/models"
)

// ParseWGQuick reads a wg-quick style .conf into a File. Keys wg-quick only
// uses for its own scripts (PostUp, Table, SaveConfig...) are skipped.
func ParseWGQuick(r io.Reader) (File, error) {
	var f File
	section := ""
	firstLine := true
	lineNo := 0

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if firstLine {
			line = strings.TrimPrefix(line, "\xEF\xBB\xBF")
			firstLine = false
		}
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}

		if strings.HasPrefix(line, "[") {
			section = strings.ToLower(strings.Trim(line, "[] "))
			switch section {
			case "interface":
			case "peer":
				f.Peers = append(f.Peers, PeerFile{})
			default:
				return File{}, fmt.Errorf("%w: line %d: unknown section %q", models.ErrConfigInvalid, lineNo, line)
			}
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return File{}, fmt.Errorf("%w: line %d: expected key = value", models.ErrConfigInvalid, lineNo)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		var err error
		switch section {
		case "interface":
			err = interfaceKey(&f.Interface, key, value)
		case "peer":
			err = peerKey(&f.Peers[len(f.Peers)-1], key, value)
		default:
			err = fmt.Errorf("key outside of a section")
		}
		if err != nil {
			return File{}, fmt.Errorf("%w: line %d: %s: %v", models.ErrConfigInvalid, lineNo, key, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return File{}, fmt.Errorf("%w: %v", models.ErrConfigInvalid, err)
	}
	return f, nil
}

func interfaceKey(iface *InterfaceFile, key, value string) error {
	var err error
	switch key {
	case "address":
		iface.Address = append(iface.Address, splitList(value)...)
	case "dns":
		// wg-quick allows search domains here; only addresses are kept.
		for _, v := range splitList(value) {
			if _, err := netip.ParseAddr(v); err == nil {
				iface.DNS = append(iface.DNS, v)
			}
		}
	case "mtu":
		iface.MTU, err = strconv.Atoi(value)
	case "privatekey":
		iface.PrivateKey = value
	case "listenport":
		iface.ListenPort, err = strconv.Atoi(value)
	case "fwmark":
		if value == "off" {
			return nil
		}
		var v int64
		v, err = strconv.ParseInt(value, 0, 32)
		iface.FwMark = int(v)
	case "table", "preup", "postup", "predown", "postdown", "saveconfig":
	default:
		return fmt.Errorf("unknown key")
	}
	return err
}

func peerKey(p *PeerFile, key, value string) error {
	var err error
	switch key {
	case "publickey":
		p.PublicKey = value
	case "presharedkey":
		p.PresharedKey = value
	case "endpoint":
		p.Endpoint = value
	case "allowedips":
		p.AllowedIPs = append(p.AllowedIPs, splitList(value)...)
	case "persistentkeepalive":
		if value == "off" {
			return nil
		}
		p.PersistentKeepalive, err = strconv.Atoi(value)
	default:
		return fmt.Errorf("unknown key")
	}
	return err
}

func splitList(value string) []string {
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
