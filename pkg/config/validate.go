package config

import (
	"fmt"
	"strconv"
	"strings"
)

// validMethods is the set of method names the methods directive accepts.
var validMethods = map[string]struct{}{
	"GET": {}, "POST": {}, "DELETE": {}, "PUT": {},
	"HEAD": {}, "OPTIONS": {}, "PATCH": {},
}

// isValidIPv4 reports whether s is a dotted-decimal IPv4 address with each
// octet in 0-255. Leading-zero forms like "01" are rejected.
func isValidIPv4(s string) bool {
	octets := strings.Split(s, ".")
	if len(octets) != 4 {
		return false
	}
	for _, octet := range octets {
		if octet == "" || len(octet) > 3 {
			return false
		}
		if len(octet) > 1 && octet[0] == '0' {
			return false
		}
		n, err := strconv.Atoi(octet)
		if err != nil || n < 0 || n > 255 {
			return false
		}
	}
	return true
}

// isValidPort reports whether the port is in the usable range.
func isValidPort(port int) bool {
	return port >= 1 && port <= 65535
}

// isValidServerName accepts literal hostnames ([A-Za-z0-9.-]), the bare
// wildcard "*", and wildcard-prefixed domains "*.example.com".
func isValidServerName(name string) bool {
	if name == "" {
		return false
	}
	if name == "*" {
		return true
	}
	candidate := name
	if strings.HasPrefix(candidate, "*.") {
		candidate = candidate[2:]
		if candidate == "" {
			return false
		}
	}
	for i := 0; i < len(candidate); i++ {
		c := candidate[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '.' || c == '-':
		default:
			return false
		}
	}
	return true
}

// isValidPath accepts absolute and explicitly relative paths.
func isValidPath(p string) bool {
	return p != "" && (p[0] == '/' || p[0] == '.')
}

// isValidMethod reports whether name is an accepted methods token.
func isValidMethod(name string) bool {
	_, ok := validMethods[name]
	return ok
}

// parseErrorPages parses "CODE [CODE ...] PATH" into a code -> path map.
func parseErrorPages(tokens []string) (map[int]string, error) {
	if len(tokens) < 2 {
		return nil, fmt.Errorf("error_page needs at least a code and a path")
	}
	path := tokens[len(tokens)-1]
	pages := make(map[int]string, len(tokens)-1)
	for _, token := range tokens[:len(tokens)-1] {
		code, err := strconv.Atoi(token)
		if err != nil || code < 100 || code > 599 {
			return nil, fmt.Errorf("invalid error_page code %q", token)
		}
		pages[code] = path
	}
	return pages, nil
}

// parseListen parses a listen directive value: "port" or "host:port".
func parseListen(value string) (Listen, error) {
	host := ""
	portToken := value
	if i := strings.LastIndexByte(value, ':'); i >= 0 {
		host = value[:i]
		portToken = value[i+1:]
		if !isValidIPv4(host) {
			return Listen{}, fmt.Errorf("invalid listen host %q", host)
		}
	}
	port, err := strconv.Atoi(portToken)
	if err != nil || !isValidPort(port) {
		return Listen{}, fmt.Errorf("invalid listen port %q", portToken)
	}
	return Listen{Host: host, Port: port}, nil
}
