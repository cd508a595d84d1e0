package wellknown

import (
	"bytes"
	"encoding/csv"
	"io"
	"log"
	"strconv"
	"strings"

	_ "embed"

	"policy-bench/internal/model"
)

//go:embed well_known_ports.csv
var wellKnownPortsData string

// AnyPort is the label for port 0 in prefix rules.
const AnyPort = "any"

type ServiceEntry struct {
	Protocol model.Protocol
	Port     int
}

var (
	serviceRegistry map[string][]ServiceEntry
	portNames       map[ServiceEntry]string
)

func init() {
	serviceRegistry = make(map[string][]ServiceEntry)
	portNames = make(map[ServiceEntry]string)
	reader := csv.NewReader(bytes.NewBufferString(wellKnownPortsData))
	reader.TrimLeadingSpace = true
	// Skip header
	if _, err := reader.Read(); err != nil {
		log.Fatalf("Failed to read header from embedded well_known_ports.csv: %v", err)
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("Failed to parse embedded well_known_ports.csv: %v", err)
		}
		if len(record) < 3 {
			continue
		}

		port, err := strconv.Atoi(record[0])
		if err != nil {
			continue
		}

		register(strings.TrimSpace(record[1]), ServiceEntry{Protocol: model.TCP, Port: port})
		register(strings.TrimSpace(record[2]), ServiceEntry{Protocol: model.UDP, Port: port})
	}
}

func register(name string, entry ServiceEntry) {
	if name == "" || name == "N/A" {
		return
	}
	key := strings.ToUpper(name)
	serviceRegistry[key] = append(serviceRegistry[key], entry)
	portNames[entry] = name
	// Add common alias for DNS
	if name == "domain" {
		serviceRegistry["DNS"] = append(serviceRegistry["DNS"], entry)
	}
}

// GetService returns the port and protocol for a well-known service name.
func GetService(name string) ([]ServiceEntry, bool) {
	entry, ok := serviceRegistry[strings.ToUpper(name)]
	return entry, ok
}

// Label names a rule port for reports. Unknown ports are rendered as numbers.
func Label(port int, protocol model.Protocol) string {
	if port == 0 {
		return AnyPort
	}
	if name, ok := portNames[ServiceEntry{Protocol: protocol, Port: port}]; ok {
		return name
	}
	return strconv.Itoa(port)
}
