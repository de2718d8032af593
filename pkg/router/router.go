package router

import (
	"strconv"
	"strings"

	"github.com/dubu13/webserv/pkg/config"
	"github.com/dubu13/webserv/pkg/protocol"
)

// redirectCodes are the status codes a return directive may name.
var redirectCodes = map[int]struct{}{
	protocol.StatusMovedPermanently:  {},
	protocol.StatusFound:             {},
	protocol.StatusSeeOther:          {},
	protocol.StatusTemporaryRedirect: {},
	protocol.StatusPermanentRedirect: {},
}

// Router resolves requests against one virtual server: location matching,
// path resolution, redirect and method policy.
type Router struct {
	server *config.ServerBlock
}

// New creates a router over a server block. The block is immutable after
// configuration load; the router holds a read-only reference.
func New(server *config.ServerBlock) *Router {
	return &Router{server: server}
}

// Server returns the server block this router resolves against.
func (r *Router) Server() *config.ServerBlock {
	return r.server
}

// SelectServer picks the vhost for a request among the blocks bound to an
// endpoint, default block first. The Host header is matched against each
// block's server names: exact, "*", or "*.suffix". No match selects the
// endpoint's default.
func SelectServer(blocks []*config.ServerBlock, hostHeader string) *config.ServerBlock {
	if len(blocks) == 0 {
		return nil
	}
	host := stripPort(hostHeader)
	if host != "" {
		for _, block := range blocks {
			for _, name := range block.ServerNames {
				if matchServerName(name, host) {
					return block
				}
			}
		}
	}
	return blocks[0]
}

// matchServerName applies one server_name pattern to a request host.
func matchServerName(pattern, host string) bool {
	switch {
	case pattern == "*":
		return true
	case strings.HasPrefix(pattern, "*."):
		return strings.HasSuffix(host, pattern[1:])
	default:
		return strings.EqualFold(pattern, host)
	}
}

// stripPort removes a trailing :port from a Host header value.
func stripPort(host string) string {
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		if _, err := strconv.Atoi(host[i+1:]); err == nil {
			return host[:i]
		}
	}
	return host
}

// FindLocation returns the location whose prefix is the longest match for
// uri, or nil. A prefix matches when the URI equals it or continues with a
// path separator; the root location matches only the root URI.
func (r *Router) FindLocation(uri string) *config.LocationBlock {
	var best *config.LocationBlock
	for prefix, location := range r.server.Locations {
		if !prefixMatches(prefix, uri) {
			continue
		}
		if best == nil || len(prefix) > len(best.Path) {
			best = location
		}
	}
	return best
}

func prefixMatches(prefix, uri string) bool {
	if prefix == "/" {
		return uri == "/"
	}
	if !strings.HasPrefix(uri, prefix) {
		return false
	}
	return len(uri) == len(prefix) || uri[len(prefix)] == '/'
}

// EffectiveRoot resolves the filesystem root for a matched location.
func (r *Router) EffectiveRoot(location *config.LocationBlock) string {
	if location != nil && location.Root != "" {
		return location.Root
	}
	if r.server.Root != "" {
		return r.server.Root
	}
	return "./www"
}

// ResolvePaths returns the effective root and URI for a request. When a
// location overrides the root, its prefix is stripped from the URI so the
// override acts as a mount point rather than duplicating the prefix on disk.
func (r *Router) ResolvePaths(location *config.LocationBlock, uri string) (root, effectiveURI string) {
	root = r.EffectiveRoot(location)
	effectiveURI = uri
	if location != nil && location.Root != "" && strings.HasPrefix(uri, location.Path) {
		effectiveURI = uri[len(location.Path):]
		if effectiveURI == "" || effectiveURI[0] != '/' {
			effectiveURI = "/" + effectiveURI
		}
	}
	return root, effectiveURI
}

// Redirect returns the pre-built redirect response for a location with a
// return directive. The directive value is either "URL" or "CODE URL"; codes
// outside the redirect set fall back to 302.
func (r *Router) Redirect(location *config.LocationBlock) (*protocol.Response, bool) {
	if location == nil || location.Redirection == "" {
		return nil, false
	}
	status := protocol.StatusFound
	target := location.Redirection
	if fields := strings.Fields(location.Redirection); len(fields) == 2 {
		if code, err := strconv.Atoi(fields[0]); err == nil {
			if _, ok := redirectCodes[code]; ok {
				status = code
				target = fields[1]
			}
		}
	}
	return protocol.Redirect(status, target), true
}

// CheckMethod applies the matched location's method policy, returning a 405
// StatusError on refusal. A request with no matching location is not policy
// constrained.
func (r *Router) CheckMethod(method protocol.Method, location *config.LocationBlock) error {
	if location == nil {
		return nil
	}
	if !location.AllowsMethod(method.String()) {
		return protocol.NewStatusError(protocol.StatusMethodNotAllowed, "")
	}
	return nil
}
