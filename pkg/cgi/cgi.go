package cgi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	shellwords "github.com/mattn/go-shellwords"

	"github.com/dubu13/webserv/pkg/logging"
	"github.com/dubu13/webserv/pkg/protocol"
	"github.com/dubu13/webserv/pkg/sandbox"
	"github.com/dubu13/webserv/pkg/tailbuffer"
)

const (
	// execTimeout bounds a script run; a script exceeding it is killed and
	// reported as a 500.
	execTimeout = 10 * time.Second
	// stderrTailSize is how much interpreter stderr is retained for
	// diagnostics.
	stderrTailSize = 1024
)

// Runner executes CGI scripts through registered interpreters and maps
// their output to HTTP responses.
type Runner struct {
	// log is the associated logger.
	log logging.Logger
	// scriptLog receives interpreter stderr.
	scriptLog logging.Logger
	// handlers maps a script extension to its interpreter command line.
	handlers map[string]string
}

// NewRunner creates a runner with the default interpreter registrations.
func NewRunner(log, scriptLog logging.Logger) *Runner {
	r := &Runner{
		log:       log,
		scriptLog: scriptLog,
		handlers:  make(map[string]string),
	}
	r.Register(".php", "/usr/bin/php")
	r.Register(".py", "/usr/bin/python")
	r.Register(".pl", "/usr/bin/perl")
	return r
}

// Register binds a script extension to an interpreter command line. The
// command line may carry arguments ("/usr/bin/env python3").
func (r *Runner) Register(extension, interpreter string) {
	r.handlers[extension] = interpreter
}

// CanHandle reports whether a registered interpreter exists for the file's
// extension.
func (r *Runner) CanHandle(path string) bool {
	_, ok := r.handlers[filepath.Ext(path)]
	return ok
}

// Execute runs the script at scriptPath for req using the interpreter
// registered for its extension.
func (r *Runner) Execute(ctx context.Context, scriptPath string, req *protocol.Request) *protocol.Response {
	interpreter, ok := r.handlers[filepath.Ext(scriptPath)]
	if !ok {
		return protocol.Simple(protocol.StatusInternalServerError,
			"No handler registered for "+filepath.Ext(scriptPath)+" scripts")
	}
	return r.ExecuteWith(ctx, interpreter, scriptPath, req)
}

// ExecuteWith runs the script at scriptPath through an explicit interpreter
// command line and returns the response its output maps to. A missing
// script, a bad interpreter command, a failed start, a non-zero exit, or a
// timeout produces a 500; after a non-zero exit or timeout the body carries
// the stderr tail when the script wrote any. Output without a header block
// is served as the body of a 200.
func (r *Runner) ExecuteWith(ctx context.Context, interpreter, scriptPath string, req *protocol.Request) *protocol.Response {
	if _, err := os.Stat(scriptPath); err != nil {
		return protocol.Simple(protocol.StatusInternalServerError,
			"No handler registered: script not found")
	}

	argv, err := shellwords.Parse(interpreter)
	if err != nil || len(argv) == 0 {
		r.log.Errorf("bad interpreter command %q: %v", interpreter, err)
		return protocol.Error(protocol.StatusInternalServerError)
	}
	argv = append(argv, scriptPath)

	ctx, cancel := context.WithTimeout(ctx, execTimeout)
	defer cancel()

	stderrTail := tailbuffer.NewTailBuffer(stderrTailSize)
	stderrStream := r.scriptLog.Writer()
	defer stderrStream.Close()

	var stdout bytes.Buffer
	r.log.Debugf("executing %v", argv)
	scriptSandbox, err := sandbox.Create(ctx, func(command *exec.Cmd) {
		command.Env = append(os.Environ(), buildEnv(req, scriptPath)...)
		command.Stdin = bytes.NewReader(req.Body)
		command.Stdout = &stdout
		command.Stderr = io.MultiWriter(stderrStream, stderrTail)
	}, argv[0], argv[1:]...)
	if err != nil {
		r.log.Errorf("unable to start %s: %v", scriptPath, err)
		return protocol.Error(protocol.StatusInternalServerError)
	}
	defer scriptSandbox.Close()

	if err := scriptSandbox.Command().Wait(); err != nil {
		tail := new(strings.Builder)
		_, _ = io.Copy(tail, stderrTail)
		r.log.Errorf("script %s failed: %v", scriptPath, err)
		if tail.Len() > 0 {
			return protocol.Simple(protocol.StatusInternalServerError,
				fmt.Sprintf("CGI script failed: %v\n%s", err, tail.String()))
		}
		return protocol.Simple(protocol.StatusInternalServerError,
			fmt.Sprintf("CGI script failed: %v", err))
	}

	return parseOutput(stdout.Bytes())
}

// buildEnv produces the CGI environment for a request.
func buildEnv(req *protocol.Request, scriptPath string) []string {
	uri := req.RequestLine.URI
	contentLength := int64(len(req.Body))
	return []string{
		"GATEWAY_INTERFACE=CGI/1.1",
		"REQUEST_METHOD=" + req.RequestLine.Method.String(),
		"REQUEST_URI=" + uri,
		"QUERY_STRING=" + protocol.Query(uri),
		"CONTENT_LENGTH=" + strconv.FormatInt(contentLength, 10),
		"CONTENT_TYPE=" + req.Header("Content-Type"),
		"SERVER_PROTOCOL=" + req.RequestLine.Version,
		"SCRIPT_FILENAME=" + scriptPath,
	}
}

// parseOutput splits script stdout into CGI headers and body. A Status
// header overrides the 200 default; remaining headers are copied through.
func parseOutput(output []byte) *protocol.Response {
	headerSection, body := splitOutput(output)

	resp := protocol.NewResponse(protocol.StatusOK)
	resp.Headers.Set("Content-Type", "text/html")
	for _, line := range headerSection {
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			continue
		}
		name := strings.TrimSpace(line[:colon])
		value := strings.TrimSpace(line[colon+1:])
		if strings.EqualFold(name, "Status") {
			if fields := strings.Fields(value); len(fields) > 0 {
				if code, err := strconv.Atoi(fields[0]); err == nil {
					resp.Status = code
					resp.Reason = protocol.ReasonPhrase(code)
				}
			}
			continue
		}
		resp.Headers.Set(name, value)
	}
	resp.Body = body
	return resp
}

// splitOutput separates the CGI header block from the body at the first
// blank line, tolerating both CRLF and LF terminators. Output with no
// header block at all is treated as all body.
func splitOutput(output []byte) (headers []string, body []byte) {
	text := string(output)
	sep := "\r\n\r\n"
	idx := strings.Index(text, sep)
	if lfIdx := strings.Index(text, "\n\n"); idx < 0 || (lfIdx >= 0 && lfIdx < idx) {
		if lfIdx >= 0 {
			idx, sep = lfIdx, "\n\n"
		}
	}
	if idx < 0 {
		return nil, output
	}
	head := text[:idx]
	if !strings.Contains(head, ":") {
		return nil, output
	}
	for _, line := range strings.Split(head, "\n") {
		headers = append(headers, strings.TrimSuffix(line, "\r"))
	}
	return headers, []byte(text[idx+len(sep):])
}
