package cluster

import (
	"fmt"
	"strings"
)

// Protocol is the wire protocol a node speaks. Any matches every protocol
// and marks nodes whose protocol is resolved by DetectProtocol.
type Protocol uint8

const (
	Any Protocol = iota
	HTTP
	TCP
	GRPC
	MySQL
	PostgreSQL
	Local
)

var protocolInfo = [...]struct {
	name string
	port int
}{
	Any:        {"any", 8123},
	HTTP:       {"http", 8123},
	TCP:        {"tcp", 8463},
	GRPC:       {"grpc", 9100},
	MySQL:      {"mysql", 9004},
	PostgreSQL: {"postgresql", 9005},
	Local:      {"local", 0},
}

func (p Protocol) String() string {
	if int(p) < len(protocolInfo) {
		return protocolInfo[p].name
	}
	return fmt.Sprintf("protocol(%d)", uint8(p))
}

// DefaultPort is the server's out-of-the-box port for p.
func (p Protocol) DefaultPort() int {
	if int(p) < len(protocolInfo) {
		return protocolInfo[p].port
	}
	return 0
}

var protocolAliases = map[string]Protocol{
	"https":    HTTP,
	"native":   TCP,
	"grpcs":    GRPC,
	"postgres": PostgreSQL,
	"pg":       PostgreSQL,
}

// ParseProtocol accepts protocol names and URI schemes case-insensitively.
func ParseProtocol(s string) (Protocol, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Any, nil
	}
	for i, info := range protocolInfo {
		if info.name == s {
			return Protocol(i), nil
		}
	}
	if p, ok := protocolAliases[s]; ok {
		return p, nil
	}
	return Any, fmt.Errorf("cluster: unknown protocol %q", s)
}
