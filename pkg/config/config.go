package config

import (
	"fmt"
	"strconv"
)

// DefaultMaxBodySize is the per-server body size limit applied when the
// configuration does not set client_max_body_size.
const DefaultMaxBodySize int64 = 1024 * 1024

// Listen is one listen directive: a bind host and port. An empty host means
// the directive named only a port.
type Listen struct {
	Host string
	Port int
}

// Key returns the canonical "host:port" endpoint key, with an unset host
// normalized to the wildcard address.
func (l Listen) Key(defaultHost string) string {
	host := defaultHost
	if host == "" {
		host = l.Host
	}
	if host == "" {
		host = "0.0.0.0"
	}
	return host + ":" + strconv.Itoa(l.Port)
}

// LocationBlock is a URI-prefix scoped policy override inside a server
// block.
type LocationBlock struct {
	// Path is the URI prefix this block matches.
	Path string
	// Root overrides the server root when non-empty.
	Root string
	// Index is the index filename served for directory requests.
	Index string
	// AllowedMethods is the method whitelist. Empty means GET only.
	AllowedMethods map[string]struct{}
	// Autoindex enables HTML directory listings.
	Autoindex bool
	// UploadStore is the directory uploads land in, when set.
	UploadStore string
	// UploadEnable gates POST uploads for this location.
	UploadEnable bool
	// Redirection is the raw value of the return directive.
	Redirection string
	// CGIExtension and CGIPath bind a script extension to an interpreter.
	CGIExtension string
	CGIPath      string
	// MaxBodySize overrides the server body limit when positive.
	MaxBodySize int64
}

// AllowsMethod reports whether a method name passes this location's policy.
// A location without a methods directive accepts GET only.
func (l *LocationBlock) AllowsMethod(method string) bool {
	if len(l.AllowedMethods) == 0 {
		return method == "GET"
	}
	_, ok := l.AllowedMethods[method]
	return ok
}

// ServerBlock is one virtual server.
type ServerBlock struct {
	Listens     []Listen
	Host        string
	ServerNames []string
	Root        string
	Index       string
	ErrorPages  map[int]string
	MaxBodySize int64
	Locations   map[string]*LocationBlock
}

// BodyLimit returns the effective body size limit for a request matched to
// location, falling back through the server limit to the default.
func (s *ServerBlock) BodyLimit(location *LocationBlock) int64 {
	if location != nil && location.MaxBodySize > 0 {
		return location.MaxBodySize
	}
	if s.MaxBodySize > 0 {
		return s.MaxBodySize
	}
	return DefaultMaxBodySize
}

// Config is the parsed configuration: every server block, grouped by
// endpoint. The first block registered for an endpoint is that endpoint's
// default vhost.
type Config struct {
	// Endpoints maps "host:port" to the server blocks listening there, in
	// declaration order.
	Endpoints map[string][]*ServerBlock
	// order preserves first-seen endpoint ordering for deterministic
	// startup.
	order []string
}

// EndpointKeys returns the configured endpoints in declaration order.
func (c *Config) EndpointKeys() []string {
	return c.order
}

// Servers returns the vhost candidates for an endpoint, default first.
func (c *Config) Servers(endpoint string) []*ServerBlock {
	return c.Endpoints[endpoint]
}

// Default returns the default vhost for an endpoint.
func (c *Config) Default(endpoint string) (*ServerBlock, error) {
	blocks := c.Endpoints[endpoint]
	if len(blocks) == 0 {
		return nil, fmt.Errorf("no server configured for %s", endpoint)
	}
	return blocks[0], nil
}

// Partition splits the configuration into at most n sub-configurations
// with disjoint endpoint sets, for running one reactor per worker. Server
// blocks are shared read-only; endpoints are dealt round-robin in
// declaration order.
func (c *Config) Partition(n int) []*Config {
	if n < 1 {
		n = 1
	}
	if n > len(c.order) {
		n = len(c.order)
	}
	parts := make([]*Config, n)
	for i := range parts {
		parts[i] = &Config{Endpoints: make(map[string][]*ServerBlock)}
	}
	for i, key := range c.order {
		part := parts[i%n]
		part.Endpoints[key] = c.Endpoints[key]
		part.order = append(part.order, key)
	}
	return parts
}

// register adds a server block under an endpoint key.
func (c *Config) register(key string, block *ServerBlock) {
	if _, seen := c.Endpoints[key]; !seen {
		c.order = append(c.order, key)
	}
	c.Endpoints[key] = append(c.Endpoints[key], block)
}
