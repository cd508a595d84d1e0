package traffic

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"policy-bench/internal/model"
	"policy-bench/pkg/wellknown"
)

// DestinationColumn is the required header of a targets file.
const DestinationColumn = "destination"

// Inputs is the traffic a sweep replays: every target crossed with every port.
type Inputs struct {
	Targets []Target
	Ports   []PortInfo
}

// Target is one destination network with the remaining CSV columns kept as
// metadata, keyed "target_<column>".
type Target struct {
	IPNet    *net.IPNet
	Metadata map[string]string
}

type PortInfo struct {
	Label    string
	Port     int
	Protocol model.Protocol
}

func ParseInputs(targetsFile, portsFile io.Reader) (*Inputs, error) {
	targets, err := parseTargets(targetsFile)
	if err != nil {
		return nil, fmt.Errorf("error parsing targets file: %w", err)
	}

	ports, err := parsePorts(portsFile)
	if err != nil {
		return nil, fmt.Errorf("error parsing ports file: %w", err)
	}

	return &Inputs{Targets: targets, Ports: ports}, nil
}

func parseTargets(r io.Reader) ([]Target, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("could not read header: %w", err)
	}

	colMap := make(map[string]int)
	for i, colName := range header {
		colMap[strings.ToLower(strings.TrimSpace(colName))] = i
	}
	dstCol, ok := colMap[DestinationColumn]
	if !ok {
		return nil, fmt.Errorf("could not find '%s' column in targets file", DestinationColumn)
	}

	var targets []Target
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if dstCol >= len(record) {
			continue
		}

		ipnet := parseNetwork(strings.TrimSpace(record[dstCol]))
		if ipnet == nil {
			continue
		}

		meta := make(map[string]string)
		for colName, index := range colMap {
			if index != dstCol && index < len(record) {
				meta["target_"+colName] = record[index]
			}
		}
		targets = append(targets, Target{IPNet: ipnet, Metadata: meta})
	}
	return targets, nil
}

// parseNetwork accepts CIDR notation or a bare address, which becomes a /32
// or /128. It returns nil for anything else.
func parseNetwork(s string) *net.IPNet {
	if _, ipnet, err := net.ParseCIDR(s); err == nil {
		return ipnet
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return nil
	}
	if v4 := ip.To4(); v4 != nil {
		return &net.IPNet{IP: v4, Mask: net.CIDRMask(32, 32)}
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(128, 128)}
}

// parsePorts reads one entry per line: "label,443/tcp", "443/tcp" or a
// well-known service name such as "https". Only TCP entries are kept since
// rules and workloads are connect based.
func parsePorts(r io.Reader) ([]PortInfo, error) {
	scanner := bufio.NewScanner(r)
	var ports []PortInfo
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var label, portProto string
		if parts := strings.SplitN(line, ",", 2); len(parts) == 2 {
			label = strings.TrimSpace(parts[0])
			portProto = strings.TrimSpace(parts[1])
		} else {
			portProto = line
		}

		protoParts := strings.Split(portProto, "/")
		if len(protoParts) != 2 {
			ports = append(ports, lookupService(portProto)...)
			continue
		}

		port, err := strconv.Atoi(protoParts[0])
		if err != nil || port < 0 || port > 65535 {
			continue
		}
		if model.Protocol(strings.ToLower(protoParts[1])) != model.TCP {
			continue
		}
		if label == "" {
			label = wellknown.Label(port, model.TCP)
		}
		ports = append(ports, PortInfo{Label: label, Port: port, Protocol: model.TCP})
	}
	return ports, scanner.Err()
}

func lookupService(name string) []PortInfo {
	entries, ok := wellknown.GetService(name)
	if !ok {
		return nil
	}
	var ports []PortInfo
	for _, e := range entries {
		if e.Protocol == model.TCP {
			ports = append(ports, PortInfo{Label: name, Port: e.Port, Protocol: model.TCP})
		}
	}
	return ports
}
