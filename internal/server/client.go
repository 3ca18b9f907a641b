package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/codefionn/devsync/internal/builder"
	"github.com/codefionn/devsync/internal/consts"
	"github.com/codefionn/devsync/internal/fsutil"
	"github.com/codefionn/devsync/internal/logger"
	"github.com/codefionn/devsync/internal/protocol"
)

// sessionState tracks the lifecycle of one connection's session.
type sessionState int

const (
	stateUninitialized sessionState = iota
	stateActive
	stateClosed
)

// Identity is the payload of the init frame.
type Identity struct {
	ClientID  string `json:"client_id"`
	ProjectID string `json:"project_id"`
	Builder   string `json:"builder"`
}

// Client owns one socket's protocol state: identity, reassembly buffer,
// sync task queue, check barrier, and ignore set. Frames are decoded and
// dispatched sequentially from the read loop; only file writes, installs,
// and builds run on their own goroutines.
type Client struct {
	// ID identifies the connection in logs
	ID string

	conn    net.Conn
	server  *Server
	decoder *protocol.Decoder

	// Session state, guarded by mu where touched off the read loop
	mu           sync.Mutex
	state        sessionState
	identity     Identity
	rootPath     string
	ignoreHashes map[string]bool
	barrier      *checkBarrier
	earlyChecks  int
	devSession   *builder.DevSession

	// syncTasks tracks in-flight write/install tasks of the check/sync phase
	syncTasks sync.WaitGroup

	// Control
	closed    chan struct{}
	closeOnce sync.Once
	cancel    context.CancelFunc

	// writeMu serializes frame writes to the socket
	writeMu sync.Mutex
}

// NewClient creates a session for an accepted connection.
func NewClient(id string, conn net.Conn, server *Server) *Client {
	return &Client{
		ID:           id,
		conn:         conn,
		server:       server,
		decoder:      protocol.NewDecoder(),
		ignoreHashes: make(map[string]bool),
		closed:       make(chan struct{}),
	}
}

// Start begins the read loop for the connection.
func (c *Client) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	go c.readLoop(ctx)
}

// Stop tears the session down: resolves the closed signal exactly once,
// stops an active dev build, and closes the socket.
func (c *Client) Stop() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = stateClosed
		dev := c.devSession
		c.devSession = nil
		c.mu.Unlock()

		close(c.closed)
		if c.cancel != nil {
			c.cancel()
		}
		if dev != nil {
			dev.Stop()
		}
		if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			logger.Debug("client %s: error closing connection: %v", c.ID, err)
		}
		c.server.untrackClient(c.ID)

		logger.Info("client %s stopped", c.ID)
	})
}

// Closed is resolved when the session has been torn down.
func (c *Client) Closed() <-chan struct{} {
	return c.closed
}

// readLoop reads transport chunks, reassembles frames, and dispatches them
// in arrival order.
func (c *Client) readLoop(ctx context.Context) {
	defer c.Stop()

	buf := make([]byte, consts.BufferSize64KB)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			for _, frame := range c.decoder.Decode(buf[:n]) {
				c.server.recorder.IncFrameIn(protocol.TypeName(frame.Type))
				c.handleFrame(ctx, frame)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Info("client %s disconnected (EOF)", c.ID)
			} else if errors.Is(err, net.ErrClosed) {
				logger.Info("client %s connection closed", c.ID)
			} else {
				logger.Error("error reading from client %s: %v", c.ID, err)
			}
			return
		}
	}
}

// handleFrame dispatches one decoded frame according to the session state.
func (c *Client) handleFrame(ctx context.Context, frame protocol.Frame) {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	switch state {
	case stateClosed:
		return
	case stateUninitialized:
		if frame.Type != protocol.TypeInit {
			logger.Warn("client %s: %s frame before init, discarding",
				c.ID, protocol.TypeName(frame.Type))
			return
		}
	case stateActive:
		if frame.Type == protocol.TypeInit {
			logger.Warn("client %s: duplicate init, discarding", c.ID)
			return
		}
	}

	logger.Debug("client %s: %s frame (note %d bytes, content %d bytes)",
		c.ID, protocol.TypeName(frame.Type), len(frame.Note), len(frame.Content))

	switch frame.Type {
	case protocol.TypeInit:
		c.handleInit(ctx, frame)
	case protocol.TypeFileChange:
		c.handleFileChange(ctx, frame)
	case protocol.TypeFileDelete:
		c.handleFileDelete(ctx, frame)
	case protocol.TypeFileCheck:
		c.handleFileCheck(ctx, frame)
	case protocol.TypeFileSync:
		c.handleFileSync(ctx, frame)
	case protocol.TypeCheckFileCount:
		c.handleCheckFileCount(frame)
	case protocol.TypeSyncHashSet:
		c.handleSyncHashSet(frame)
	case protocol.TypeDevelopment:
		c.handleDevelopment(ctx, frame)
	case protocol.TypeBuild:
		c.handleBuild(ctx, frame)
	default:
		logger.Warn("client %s: unknown frame type 0x%02X, discarding", c.ID, frame.Type)
	}
}

// send encodes and writes one frame. An encoding refusal (oversize) means
// nothing is sent.
func (c *Client) send(typeCode byte, content, note []byte) {
	data := protocol.Encode(typeCode, content, note)
	if data == nil {
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(consts.Timeout30Seconds)); err != nil {
		logger.Error("client %s: failed to set write deadline: %v", c.ID, err)
		return
	}
	if _, err := c.conn.Write(data); err != nil {
		logger.Error("client %s: failed to write %s frame: %v",
			c.ID, protocol.TypeName(typeCode), err)
		return
	}
	c.server.recorder.IncFrameOut(protocol.TypeName(typeCode))
}

// Console relays user-visible text to the client as a console-message frame.
func (c *Client) Console(format string, args ...interface{}) {
	c.send(protocol.TypeConsoleMessage, []byte(fmt.Sprintf(format, args...)), nil)
}

// resolvePath confines a client-supplied relative path to the session root.
func (c *Client) resolvePath(rel string) (string, error) {
	c.mu.Lock()
	root := c.rootPath
	c.mu.Unlock()
	return fsutil.ResolveWithin(root, rel)
}

// isManifest reports whether a client-supplied relative path names the
// dependency manifest file.
func (c *Client) isManifest(rel string) bool {
	return filepath.Base(filepath.FromSlash(rel)) == c.server.cfg.ManifestFile
}

// install runs the dependency installer for the session root, relaying
// failures to the client console.
func (c *Client) install(ctx context.Context, manifestPath string) {
	c.mu.Lock()
	root := c.rootPath
	c.mu.Unlock()

	if err := c.server.inst.Install(ctx, manifestPath, root); err != nil {
		logger.Error("client %s: dependency install failed: %v", c.ID, err)
		c.Console("Dependency install failed: %v", err)
	}
}

// barrierDone counts one checked file off the barrier. Decrements arriving
// before the count announcement are remembered and applied on installation.
// A fired barrier is spent: decrements landing after it belong to the next
// check phase and accumulate as early checks.
func (c *Client) barrierDone() {
	c.mu.Lock()
	barrier := c.barrier
	if barrier != nil && barrier.Fired() {
		c.barrier = nil
		barrier = nil
	}
	if barrier == nil {
		c.earlyChecks++
	}
	c.mu.Unlock()

	if barrier != nil {
		barrier.Done()
	}
}

// handleInit stores the identity, derives the immutable session root, and
// acknowledges with init-done.
func (c *Client) handleInit(ctx context.Context, frame protocol.Frame) {
	var identity Identity
	if err := json.Unmarshal(frame.Content, &identity); err != nil {
		logger.Error("client %s: invalid init payload: %v", c.ID, err)
		c.Console("Server error")
		return
	}
	if identity.ClientID == "" || identity.ProjectID == "" {
		logger.Error("client %s: init without client or project id", c.ID)
		c.Console("Server error")
		return
	}

	root, err := fsutil.ResolveWithin(c.server.cfg.DataDir,
		identity.ClientID+"/"+identity.ProjectID)
	if err != nil {
		logger.Error("client %s: invalid identity path: %v", c.ID, err)
		c.Console("Server error")
		return
	}
	if err := c.server.fs.EnsureDir(ctx, root); err != nil {
		logger.Error("client %s: failed to create project root %s: %v", c.ID, root, err)
		c.Console("Server error")
		return
	}

	c.mu.Lock()
	c.identity = identity
	c.rootPath = root
	c.state = stateActive
	c.mu.Unlock()

	logger.Info("client %s initialized: client=%s project=%s builder=%s root=%s",
		c.ID, identity.ClientID, identity.ProjectID, identity.Builder, root)
	c.send(protocol.TypeInitDone, nil, nil)
}

// handleFileChange writes one file under the session root and, for the
// manifest file, kicks off a dependency install.
func (c *Client) handleFileChange(ctx context.Context, frame protocol.Frame) {
	rel := string(frame.Note)
	path, err := c.resolvePath(rel)
	if err != nil {
		logger.Error("client %s: file-change %s: %v", c.ID, rel, err)
		c.Console("Server error")
		return
	}

	if err := c.server.fs.WriteFile(ctx, path, frame.Content); err != nil {
		logger.Error("client %s: failed to write %s: %v", c.ID, rel, err)
		c.Console("Server error")
		return
	}
	c.server.recorder.IncFileSynced()

	if c.isManifest(rel) {
		// Installs run to completion even if the connection closes
		go c.install(context.WithoutCancel(ctx), path)
	}
}

// handleFileDelete removes one file under the session root. Errors are
// non-fatal.
func (c *Client) handleFileDelete(ctx context.Context, frame protocol.Frame) {
	rel := string(frame.Note)
	path, err := c.resolvePath(rel)
	if err != nil {
		logger.Error("client %s: file-delete %s: %v", c.ID, rel, err)
		return
	}
	if err := c.server.fs.Delete(ctx, path); err != nil {
		logger.Warn("client %s: failed to delete %s: %v", c.ID, rel, err)
	}
}

// handleFileCheck compares the server's on-disk copy against the hash the
// client supplied. The disk copy is ground truth: any mismatch or read
// failure is reported as update-needed, never silently resolved.
func (c *Client) handleFileCheck(ctx context.Context, frame protocol.Frame) {
	rel := string(frame.Note)
	expected := string(frame.Content)

	path, err := c.resolvePath(rel)
	if err != nil {
		logger.Error("client %s: file-check %s: %v", c.ID, rel, err)
		c.send(protocol.TypeFileUpdateNeeded, nil, frame.Note)
		return
	}

	data, err := c.server.fs.ReadFile(ctx, path)
	if err != nil || fsutil.ContentHash(data) != expected {
		c.send(protocol.TypeFileUpdateNeeded, nil, frame.Note)
		return
	}
	c.barrierDone()
}

// handleFileSync enqueues a file write as part of the check/sync phase. A
// manifest sync defers its barrier decrement until both the write and the
// triggered install complete; any other file counts down immediately on
// enqueue.
func (c *Client) handleFileSync(ctx context.Context, frame protocol.Frame) {
	rel := string(frame.Note)
	content := frame.Content

	path, err := c.resolvePath(rel)
	if err != nil {
		logger.Error("client %s: file-sync %s: %v", c.ID, rel, err)
		c.Console("Server error")
		c.barrierDone()
		return
	}

	// Enqueued writes and their installs run to completion even if the
	// connection closes mid-task
	taskCtx := context.WithoutCancel(ctx)
	write := func() {
		if err := c.server.fs.WriteFile(taskCtx, path, content); err != nil {
			logger.Error("client %s: failed to sync %s: %v", c.ID, rel, err)
			c.Console("Server error")
			return
		}
		c.server.recorder.IncFileSynced()
	}

	c.syncTasks.Add(1)
	if c.isManifest(rel) {
		go func() {
			defer c.syncTasks.Done()
			write()
			c.install(taskCtx, path)
			c.barrierDone()
		}()
		return
	}

	go func() {
		defer c.syncTasks.Done()
		write()
	}()
	c.barrierDone()
}

// handleCheckFileCount installs the countdown barrier. When the count
// reaches zero the barrier waits for every enqueued sync task to settle and
// then emits check-off, exactly once.
func (c *Client) handleCheckFileCount(frame protocol.Frame) {
	count, err := strconv.Atoi(strings.TrimSpace(string(frame.Note)))
	if err != nil || count < 0 {
		logger.Error("client %s: invalid check-file-count %q", c.ID, frame.Note)
		c.Console("Server error")
		return
	}

	barrier := newCheckBarrier(count, func() {
		c.syncTasks.Wait()
		logger.Info("client %s: check phase complete (%d files)", c.ID, count)
		c.send(protocol.TypeCheckOff, nil, nil)
	})

	c.mu.Lock()
	c.barrier = barrier
	early := c.earlyChecks
	c.earlyChecks = 0
	c.mu.Unlock()

	for ; early > 0; early-- {
		barrier.Done()
	}
}

// handleSyncHashSet replaces the ignore-hash set wholesale.
func (c *Client) handleSyncHashSet(frame protocol.Frame) {
	hashes := make(map[string]bool)
	if err := json.Unmarshal(frame.Content, &hashes); err != nil {
		logger.Error("client %s: invalid sync-hash-set payload: %v", c.ID, err)
		c.Console("Server error")
		return
	}

	c.mu.Lock()
	c.ignoreHashes = hashes
	c.mu.Unlock()

	logger.Debug("client %s: ignore set replaced (%d hashes)", c.ID, len(hashes))
}

// handleDevelopment resolves the session's builder and starts a dev/watch
// build. The dev session is torn down when the connection closes.
func (c *Client) handleDevelopment(ctx context.Context, frame protocol.Frame) {
	c.mu.Lock()
	name := c.identity.Builder
	root := c.rootPath
	c.mu.Unlock()

	bld, err := c.server.registry.Resolve(name)
	if err != nil {
		logger.Error("client %s: development: %v", c.ID, err)
		c.Console("Builder error: %v", err)
		return
	}

	dev, err := bld.StartDev(ctx, root, c.Console)
	if err != nil {
		logger.Error("client %s: failed to start dev build: %v", c.ID, err)
		c.Console("Builder error: %v", err)
		return
	}

	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		dev.Stop()
		return
	}
	if c.devSession != nil {
		c.devSession.Stop()
	}
	c.devSession = dev
	c.mu.Unlock()

	go func() {
		select {
		case <-dev.Ready():
			logger.Info("client %s: dev server ready", c.ID)
			c.send(protocol.TypeDevServerStart, nil, nil)
		case <-c.closed:
		}
	}()
}

// handleBuild resolves the session's builder and runs a one-shot build on
// its own goroutine, then streams the artifacts back.
func (c *Client) handleBuild(ctx context.Context, frame protocol.Frame) {
	c.mu.Lock()
	name := c.identity.Builder
	root := c.rootPath
	c.mu.Unlock()

	bld, err := c.server.registry.Resolve(name)
	if err != nil {
		logger.Error("client %s: build: %v", c.ID, err)
		c.Console("Builder error: %v", err)
		return
	}

	// One-shot builds run to completion even if the connection closes; only
	// the dev watcher is tied to the connection's cancellation
	go c.runBuild(context.WithoutCancel(ctx), bld, root)
}

// runBuild performs the build, then hashes every output file, skips those in
// the ignore set, streams the rest as build-file-sync frames, and closes the
// stream with a fin signal.
func (c *Client) runBuild(ctx context.Context, bld builder.Builder, root string) {
	start := time.Now()
	outDir, err := bld.RunBuild(ctx, root, c.Console)
	if err != nil {
		c.server.recorder.ObserveBuild(false, time.Since(start))
		logger.Error("client %s: build failed: %v", c.ID, err)
		c.Console("Build failed: %v", err)
		return
	}
	c.server.recorder.ObserveBuild(true, time.Since(start))

	files, err := c.server.fs.ListFilesRecursive(ctx, outDir)
	if err != nil {
		logger.Error("client %s: failed to list build output %s: %v", c.ID, outDir, err)
		c.Console("Server error")
		return
	}

	c.mu.Lock()
	ignore := c.ignoreHashes
	c.mu.Unlock()

	sent := 0
	for _, rel := range files {
		data, err := c.server.fs.ReadFile(ctx, filepath.Join(outDir, filepath.FromSlash(rel)))
		if err != nil {
			logger.Error("client %s: failed to read build artifact %s: %v", c.ID, rel, err)
			c.Console("Server error")
			continue
		}
		if ignore[fsutil.ContentHash(data)] {
			continue
		}
		c.send(protocol.TypeBuildFileSync, data, []byte(rel))
		sent++
	}

	logger.Info("client %s: build complete, %d/%d artifacts streamed", c.ID, sent, len(files))
	c.send(protocol.TypeFin, nil, nil)
}
