package handler

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dubu13/webserv/pkg/cgi"
	"github.com/dubu13/webserv/pkg/config"
	"github.com/dubu13/webserv/pkg/files"
	"github.com/dubu13/webserv/pkg/internal/utils"
	"github.com/dubu13/webserv/pkg/logging"
	"github.com/dubu13/webserv/pkg/protocol"
	"github.com/dubu13/webserv/pkg/router"
)

// deleteProtected are URIs a DELETE may never touch. Each is refused on an
// exact match; an entry ending in '/' other than "/" itself also refuses
// every URI under it.
var deleteProtected = []string{"/", "/index.html", "/errors/"}

// timeNow is indirected for upload-filename tests.
var timeNow = time.Now

// Dispatcher turns parsed requests into responses: location resolution,
// policy checks, and the per-method handlers.
type Dispatcher struct {
	// log is the associated logger.
	log logging.Logger
	// files performs all filesystem access.
	files *files.Service
	// cache holds small static files across requests.
	cache *files.Cache
	// cgi executes scripts for URIs with registered extensions.
	cgi *cgi.Runner
}

// New creates a dispatcher.
func New(log logging.Logger, fileService *files.Service, cache *files.Cache, cgiRunner *cgi.Runner) *Dispatcher {
	return &Dispatcher{
		log:   log,
		files: fileService,
		cache: cache,
		cgi:   cgiRunner,
	}
}

// Handle resolves req against the vhost router and produces its response.
// A panic in any handler is caught here and reported as a 500; it never
// unwinds into the event loop.
func (d *Dispatcher) Handle(ctx context.Context, rtr *router.Router, req *protocol.Request) (resp *protocol.Response) {
	server := rtr.Server()
	defer func() {
		if r := recover(); r != nil {
			d.log.Errorf("panic handling %s %s: %v",
				req.RequestLine.Method, utils.SanitizeForLog(req.RequestLine.URI), r)
			resp = d.errorResponse(server, protocol.StatusInternalServerError)
		}
	}()

	uri := protocol.URLDecode(protocol.CleanURI(req.RequestLine.URI))
	if !protocol.IsPathSafe(uri) {
		return d.errorResponse(server, protocol.StatusBadRequest)
	}

	location := rtr.FindLocation(uri)

	if redirect, ok := rtr.Redirect(location); ok {
		return redirect
	}

	if err := rtr.CheckMethod(req.RequestLine.Method, location); err != nil {
		return d.errorResponse(server, protocol.StatusFromError(err))
	}

	if int64(len(req.Body)) > server.BodyLimit(location) {
		return d.errorResponse(server, protocol.StatusPayloadTooLarge)
	}

	root, effectiveURI := rtr.ResolvePaths(location, uri)

	switch req.RequestLine.Method {
	case protocol.MethodGet:
		return d.handleGet(ctx, server, location, root, uri, effectiveURI, req)
	case protocol.MethodPost:
		return d.handlePost(server, location, root, effectiveURI, req)
	case protocol.MethodDelete:
		return d.handleDelete(server, root, uri, effectiveURI)
	}
	return d.errorResponse(server, protocol.StatusMethodNotAllowed)
}

// handleGet serves static files, directory listings, and CGI output.
func (d *Dispatcher) handleGet(ctx context.Context, server *config.ServerBlock, location *config.LocationBlock, root, uri, effectiveURI string, req *protocol.Request) *protocol.Response {
	filePath := protocol.BuildPath(root, effectiveURI)

	if d.files.IsDirectory(filePath) {
		index := server.Index
		if location != nil && location.Index != "" {
			index = location.Index
		}
		switch {
		case index != "" && d.files.Exists(filepath.Join(filePath, index)):
			filePath = filepath.Join(filePath, index)
			effectiveURI = strings.TrimSuffix(effectiveURI, "/") + "/" + index
		case location != nil && location.Autoindex:
			listing := d.files.ListDirectory(filePath, uri)
			return protocol.File(protocol.StatusOK, []byte(listing), "text/html")
		default:
			return d.errorResponse(server, protocol.StatusForbidden)
		}
	}

	if interpreter, ok := d.scriptInterpreter(location, filePath); ok {
		resp := d.cgi.ExecuteWith(ctx, interpreter, filePath, req)
		return resp
	}
	if d.cgi.CanHandle(filePath) {
		return d.cgi.Execute(ctx, filePath, req)
	}

	if content, mimeType, ok := d.cache.Get(filePath); ok {
		return protocol.File(protocol.StatusOK, content, mimeType)
	}

	content, err := d.files.Read(root, effectiveURI)
	if err != nil {
		return d.errorResponse(server, protocol.StatusFromError(err))
	}

	mimeType := files.MIMEType(filePath)
	if len(content) > protocol.ChunkedThreshold {
		return protocol.ChunkedFile(protocol.StatusOK, content, mimeType)
	}
	d.cache.Put(filePath, content, mimeType)
	return protocol.File(protocol.StatusOK, content, mimeType)
}

// scriptInterpreter returns the location-scoped interpreter for filePath,
// when the location binds its extension.
func (d *Dispatcher) scriptInterpreter(location *config.LocationBlock, filePath string) (string, bool) {
	if location == nil || location.CGIExtension == "" || location.CGIPath == "" {
		return "", false
	}
	if filepath.Ext(filePath) != location.CGIExtension {
		return "", false
	}
	return location.CGIPath, true
}

// handlePost accepts uploads. With an upload_store the body lands there
// under a timestamped name; otherwise it is written at the request path.
func (d *Dispatcher) handlePost(server *config.ServerBlock, location *config.LocationBlock, root, effectiveURI string, req *protocol.Request) *protocol.Response {
	if location != nil && !location.UploadEnable {
		return d.errorResponse(server, protocol.StatusForbidden)
	}

	var created bool
	var err error
	if location != nil && location.UploadStore != "" {
		name := fmt.Sprintf("/upload_%d.txt", timeNow().Unix())
		created, err = d.files.Write(location.UploadStore, name, req.Body)
	} else {
		created, err = d.files.Write(root, effectiveURI, req.Body)
	}
	if err != nil {
		return d.errorResponse(server, protocol.StatusFromError(err))
	}

	status := protocol.StatusOK
	if created {
		status = protocol.StatusCreated
	}
	return protocol.Simple(status, "File uploaded successfully")
}

// handleDelete removes a file, refusing directories and protected paths.
func (d *Dispatcher) handleDelete(server *config.ServerBlock, root, uri, effectiveURI string) *protocol.Response {
	for _, protected := range deleteProtected {
		if uri == protected || (strings.HasSuffix(protected, "/") && strings.HasPrefix(uri, protected) && protected != "/") {
			return d.errorResponse(server, protocol.StatusForbidden)
		}
	}

	if err := d.files.Delete(root, effectiveURI); err != nil {
		return d.errorResponse(server, protocol.StatusFromError(err))
	}
	return protocol.NewResponse(protocol.StatusNoContent)
}

// ErrorResponse builds the error response for a status against a vhost's
// error page configuration. It exists for callers that fail before routing,
// like the connection layer rejecting an unparseable request.
func (d *Dispatcher) ErrorResponse(server *config.ServerBlock, status int) *protocol.Response {
	return d.errorResponse(server, status)
}

// errorResponse builds a 4xx/5xx response, preferring the vhost's custom
// error page when one is configured and loads.
func (d *Dispatcher) errorResponse(server *config.ServerBlock, status int) *protocol.Response {
	if server != nil {
		if page, ok := server.ErrorPages[status]; ok {
			root := server.Root
			if root == "" {
				root = "./www"
			}
			if content, err := d.files.Read(root, page); err == nil {
				return protocol.File(status, content, "text/html")
			}
			d.log.Warnf("custom error page %s for %d failed to load", page, status)
		}
	}
	return protocol.Error(status)
}
