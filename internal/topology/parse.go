package topology

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrMalformedConfiguration is returned for any line that does not match
// one of the §6 record forms, or for a configuration missing its `end\tof
// \tline` trailer. Per spec, a malformed line invalidates the whole
// configuration — callers must not apply a partially parsed result.
var ErrMalformedConfiguration = errors.New("topology: malformed configuration line")

const trailer = "end\tof\tline"

// ParseConfiguration performs a strict, line-oriented parse of the §6 text
// configuration format. version is the caller-assigned monotonically
// increasing configuration version (the format itself carries no version
// field; the coordinator numbers configurations as it emits them).
//
// Any unrecognized or malformed line — wrong field count, an un-parseable
// integer, a reference to an unknown host or space — aborts the parse with
// ErrMalformedConfiguration; no partial Configuration is returned.
func ParseConfiguration(r io.Reader, version uint64) (*Configuration, error) {
	cfg := newConfiguration(version)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	sawTrailer := false
	for scanner.Scan() {
		line := scanner.Text()
		if line == trailer {
			sawTrailer = true
			break
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		var err error
		switch fields[0] {
		case "host":
			err = parseHostLine(cfg, fields[1:])
		case "space":
			err = parseSpaceLine(cfg, fields[1:])
		case "subspace":
			err = parseSubspaceLine(cfg, fields[1:])
		case "region":
			err = parseRegionLine(cfg, fields[1:])
		case "transfer":
			err = parseTransferLine(cfg, fields[1:])
		default:
			err = errors.Wrapf(ErrMalformedConfiguration, "unknown record %q", fields[0])
		}
		if err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if !sawTrailer {
		return nil, errors.Wrap(ErrMalformedConfiguration, "missing end-of-configuration trailer")
	}

	cfg.buildIndices()
	return cfg, nil
}

func parseHostLine(cfg *Configuration, f []string) error {
	if len(f) != 6 {
		return errors.Wrapf(ErrMalformedConfiguration, "host: want 6 fields, got %d", len(f))
	}
	id, err := parseHex(f[0])
	if err != nil {
		return err
	}
	inPort, err := parseUint16(f[2])
	if err != nil {
		return err
	}
	inVer, err := parseUint16(f[3])
	if err != nil {
		return err
	}
	outPort, err := parseUint16(f[4])
	if err != nil {
		return err
	}
	outVer, err := parseUint16(f[5])
	if err != nil {
		return err
	}
	cfg.hosts[id] = Host{
		ID:              id,
		IP:              f[1],
		InboundPort:     inPort,
		InboundVersion:  inVer,
		OutboundPort:    outPort,
		OutboundVersion: outVer,
	}
	return nil
}

func parseSpaceLine(cfg *Configuration, f []string) error {
	if len(f) < 3 {
		return errors.Wrapf(ErrMalformedConfiguration, "space: want at least 3 fields, got %d", len(f))
	}
	id, err := parseHex(f[0])
	if err != nil {
		return err
	}
	name := f[1]
	cfg.spaces[name] = Space{ID: id, Name: name, Attrs: append([]string(nil), f[2:]...)}
	cfg.spaceIDByName[name] = id
	return nil
}

func parseSubspaceLine(cfg *Configuration, f []string) error {
	if len(f) < 2 {
		return errors.Wrapf(ErrMalformedConfiguration, "subspace: want at least 2 fields, got %d", len(f))
	}
	spaceName := f[0]
	if _, ok := cfg.spaces[spaceName]; !ok {
		return errors.Wrapf(ErrMalformedConfiguration, "subspace: unknown space %q", spaceName)
	}
	num, err := strconv.Atoi(f[1])
	if err != nil {
		return errors.Wrapf(ErrMalformedConfiguration, "subspace: bad subspace number %q", f[1])
	}
	cfg.subspaces[spaceName] = append(cfg.subspaces[spaceName], Subspace{
		SpaceName: spaceName,
		Num:       num,
		Attrs:     append([]string(nil), f[2:]...),
	})
	return nil
}

func parseRegionLine(cfg *Configuration, f []string) error {
	if len(f) < 5 {
		return errors.Wrapf(ErrMalformedConfiguration, "region: want at least 5 fields, got %d", len(f))
	}
	spaceName := f[0]
	if _, ok := cfg.spaces[spaceName]; !ok {
		return errors.Wrapf(ErrMalformedConfiguration, "region: unknown space %q", spaceName)
	}
	num, err := strconv.Atoi(f[1])
	if err != nil {
		return errors.Wrapf(ErrMalformedConfiguration, "region: bad subspace number %q", f[1])
	}
	bits, err := strconv.ParseUint(f[2], 10, 8)
	if err != nil {
		return errors.Wrapf(ErrMalformedConfiguration, "region: bad prefix bits %q", f[2])
	}
	prefix, err := parseHex(f[3])
	if err != nil {
		return err
	}
	hosts := make([]uint64, 0, len(f)-4)
	for _, h := range f[4:] {
		hostID, err := parseHex(h)
		if err != nil {
			return err
		}
		if _, ok := cfg.hosts[hostID]; !ok {
			return errors.Wrapf(ErrMalformedConfiguration, "region: unknown host %q", h)
		}
		hosts = append(hosts, hostID)
	}
	cfg.regions = append(cfg.regions, Region{
		SpaceName:   spaceName,
		SubspaceNum: num,
		PrefixBits:  uint8(bits),
		Prefix:      prefix,
		Hosts:       hosts,
	})
	return nil
}

func parseTransferLine(cfg *Configuration, f []string) error {
	if len(f) != 6 {
		return errors.Wrapf(ErrMalformedConfiguration, "transfer: want 6 fields, got %d", len(f))
	}
	xferID, err := parseHex(f[0])
	if err != nil {
		return err
	}
	spaceName := f[1]
	if _, ok := cfg.spaces[spaceName]; !ok {
		return errors.Wrapf(ErrMalformedConfiguration, "transfer: unknown space %q", spaceName)
	}
	num, err := strconv.Atoi(f[2])
	if err != nil {
		return errors.Wrapf(ErrMalformedConfiguration, "transfer: bad subspace number %q", f[2])
	}
	bits, err := strconv.ParseUint(f[3], 10, 8)
	if err != nil {
		return errors.Wrapf(ErrMalformedConfiguration, "transfer: bad prefix bits %q", f[3])
	}
	prefix, err := parseHex(f[4])
	if err != nil {
		return err
	}
	destHost, err := parseHex(f[5])
	if err != nil {
		return err
	}
	if _, ok := cfg.hosts[destHost]; !ok {
		return errors.Wrapf(ErrMalformedConfiguration, "transfer: unknown dest host %q", f[5])
	}
	cfg.transfers = append(cfg.transfers, Transfer{
		XferID:      xferID,
		SpaceName:   spaceName,
		SubspaceNum: num,
		PrefixBits:  uint8(bits),
		Prefix:      prefix,
		DestHost:    destHost,
	})
	return nil
}

func parseHex(s string) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrMalformedConfiguration, "bad hex id %q", s)
	}
	return v, nil
}

func parseUint16(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, errors.Wrapf(ErrMalformedConfiguration, "bad integer %q", s)
	}
	return uint16(v), nil
}
