package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	units "github.com/docker/go-units"
	shellwords "github.com/mattn/go-shellwords"

	"github.com/dubu13/webserv/pkg/logging"
)

// Loader parses configuration text into a Config.
type Loader struct {
	log logging.Logger
}

// NewLoader creates a configuration loader logging through log.
func NewLoader(log logging.Logger) *Loader {
	return &Loader{log: log}
}

// LoadFile reads and parses the configuration file at path.
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.log.Infof("loading configuration from %s", path)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()
	return l.Parse(f)
}

// Parse parses configuration text: a sequence of server { ... } blocks
// holding key value; directives and nested location PATH { ... } blocks.
// Comment lines start with '#'; indentation is insignificant.
func (l *Loader) Parse(r io.Reader) (*Config, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{Endpoints: make(map[string][]*ServerBlock)}
	for i := 0; i < len(lines); i++ {
		name, _, open := splitBlockHeader(lines[i])
		if name != "server" || !open {
			return nil, fmt.Errorf("line %q: expected server block", lines[i])
		}
		block, next, err := l.parseServer(lines, i+1)
		if err != nil {
			return nil, err
		}
		i = next

		if len(block.Listens) == 0 {
			return nil, fmt.Errorf("server block must have at least one listen directive")
		}
		for _, listen := range block.Listens {
			key := listen.Key(block.Host)
			cfg.register(key, block)
			l.log.Debugf("registered server for %s", key)
		}
	}

	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("no server blocks found")
	}
	l.log.Infof("configuration parsed: %d endpoints", len(cfg.order))
	return cfg, nil
}

// parseServer consumes a server block body starting at lines[start] and
// returns the block and the index of its closing brace.
func (l *Loader) parseServer(lines []string, start int) (*ServerBlock, int, error) {
	block := &ServerBlock{
		ErrorPages: make(map[int]string),
		Locations:  make(map[string]*LocationBlock),
	}

	for i := start; i < len(lines); i++ {
		line := lines[i]
		if line == "}" {
			return block, i, nil
		}

		if name, arg, open := splitBlockHeader(line); name == "location" && open {
			if !isValidPath(arg) {
				return nil, 0, fmt.Errorf("invalid location path %q", arg)
			}
			location, next, err := l.parseLocation(lines, i+1, arg)
			if err != nil {
				return nil, 0, err
			}
			block.Locations[arg] = location
			i = next
			continue
		}

		name, tokens, err := splitDirective(line)
		if err != nil {
			return nil, 0, err
		}
		if err := l.applyServerDirective(block, name, tokens); err != nil {
			return nil, 0, err
		}
	}
	return nil, 0, fmt.Errorf("unterminated server block")
}

// parseLocation consumes a location block body and returns it along with the
// index of its closing brace.
func (l *Loader) parseLocation(lines []string, start int, path string) (*LocationBlock, int, error) {
	location := &LocationBlock{
		Path:           path,
		AllowedMethods: make(map[string]struct{}),
	}

	for i := start; i < len(lines); i++ {
		line := lines[i]
		if line == "}" {
			return location, i, nil
		}
		name, tokens, err := splitDirective(line)
		if err != nil {
			return nil, 0, err
		}
		if err := l.applyLocationDirective(location, name, tokens); err != nil {
			return nil, 0, err
		}
	}
	return nil, 0, fmt.Errorf("unterminated location block for %s", path)
}

func (l *Loader) applyServerDirective(block *ServerBlock, name string, tokens []string) error {
	value := strings.Join(tokens, " ")
	l.log.Debugf("server directive %s = %s", name, value)

	switch name {
	case "listen":
		listen, err := parseListen(value)
		if err != nil {
			return err
		}
		block.Listens = append(block.Listens, listen)
	case "host":
		if !isValidIPv4(value) {
			return fmt.Errorf("invalid host IP %q", value)
		}
		block.Host = value
	case "server_name":
		for _, token := range tokens {
			if !isValidServerName(token) {
				return fmt.Errorf("invalid server name %q", token)
			}
			block.ServerNames = append(block.ServerNames, token)
		}
	case "root":
		if !isValidPath(value) {
			return fmt.Errorf("invalid root path %q", value)
		}
		block.Root = value
	case "index":
		block.Index = value
	case "error_page":
		pages, err := parseErrorPages(tokens)
		if err != nil {
			return err
		}
		for code, page := range pages {
			block.ErrorPages[code] = page
		}
	case "client_max_body_size":
		size, err := parseSize(value)
		if err != nil {
			return err
		}
		block.MaxBodySize = size
	default:
		l.log.Warnf("unknown server directive %q", name)
	}
	return nil
}

func (l *Loader) applyLocationDirective(location *LocationBlock, name string, tokens []string) error {
	value := strings.Join(tokens, " ")
	l.log.Debugf("location %s directive %s = %s", location.Path, name, value)

	switch name {
	case "root":
		if !isValidPath(value) {
			return fmt.Errorf("invalid location root %q", value)
		}
		location.Root = value
	case "index":
		location.Index = value
	case "methods":
		for _, token := range tokens {
			if !isValidMethod(token) {
				return fmt.Errorf("invalid method %q", token)
			}
			location.AllowedMethods[token] = struct{}{}
		}
	case "autoindex":
		location.Autoindex = value == "on" || value == "true"
	case "upload_store":
		location.UploadStore = value
	case "upload_enable":
		location.UploadEnable = value == "on" || value == "true"
	case "return":
		location.Redirection = value
	case "cgi_ext", "cgi_extension":
		location.CGIExtension = value
	case "cgi_path":
		location.CGIPath = value
	case "client_max_body_size":
		size, err := parseSize(value)
		if err != nil {
			return err
		}
		location.MaxBodySize = size
	default:
		l.log.Warnf("unknown location directive %q", name)
	}
	return nil
}

// splitBlockHeader recognizes "name { " and "name arg {" lines, returning
// the block name, its argument, and whether the line opens a block.
func splitBlockHeader(line string) (name, arg string, open bool) {
	if !strings.HasSuffix(line, "{") {
		return "", "", false
	}
	fields := strings.Fields(strings.TrimSpace(strings.TrimSuffix(line, "{")))
	switch len(fields) {
	case 1:
		return fields[0], "", true
	case 2:
		return fields[0], fields[1], true
	}
	return "", "", false
}

// splitDirective splits a "key value ... ;" line into the directive name and
// its value tokens. Values may be quoted; quoting follows shell rules.
func splitDirective(line string) (string, []string, error) {
	line = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(line), ";"))
	tokens, err := shellwords.Parse(line)
	if err != nil {
		return "", nil, fmt.Errorf("malformed directive %q: %w", line, err)
	}
	if len(tokens) == 0 {
		return "", nil, fmt.Errorf("empty directive")
	}
	return tokens[0], tokens[1:], nil
}

// parseSize parses a human size with an optional k/m/g suffix (binary
// multipliers) into bytes.
func parseSize(value string) (int64, error) {
	size, err := units.RAMInBytes(value)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("invalid size %q", value)
	}
	return size, nil
}
