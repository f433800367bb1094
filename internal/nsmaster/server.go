package nsmaster

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"

	nserrors "github.com/kuerant/hypertable/internal/errors"
	"github.com/kuerant/hypertable/internal/namespace"
	"github.com/kuerant/hypertable/internal/wire"
)

// readFrame/writeFrame mirror nstransport's length-prefixed framing (u32
// byte-length prefix, spec §6.1); duplicated here rather than exported from
// nstransport since the two packages sit on opposite ends of the wire and
// have no other reason to share a dependency.
func readFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeFrame(w io.Writer, buf []byte) error {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(buf)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(buf)
	return err
}

// Server is the namespace master's TCP listener: it accepts one persistent
// connection per client (mirroring nstransport.TCPTransport's one-conn-per-
// peer pooling) and dispatches each request frame to the Store, encoding
// replies with the wire protocol's response-code-then-payload framing
// (spec §6.1). Grounded on the accept/serve loop shape of
// pikaia79-baud/master/ps_rpc_server.go.
type Server struct {
	store *Store

	mu         sync.Mutex
	handles    map[int64]*openHandle
	nextHandle int64

	ln net.Listener
}

type openHandle struct {
	path      string
	flags     int32
	lockMode  namespace.LockMode
	lockGen   int64
	isLocked  bool
}

func NewServer(store *Store) *Server {
	return &Server{store: store, handles: make(map[int64]*openHandle)}
}

// Serve accepts connections on addr until ctx is cancelled or Close is
// called. It blocks until the listener stops.
func (srv *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv.ln = ln

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go srv.serveConn(ctx, conn)
	}
}

func (srv *Server) Close() {
	if srv.ln != nil {
		srv.ln.Close()
	}
}

func (srv *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	holder := conn.RemoteAddr().String()

	for {
		req, err := readFrame(conn)
		if err != nil {
			return
		}

		reply := srv.dispatch(ctx, holder, req)
		if err := writeFrame(conn, reply); err != nil {
			return
		}
	}
}

// dispatch decodes one request frame, executes the named operation against
// the Store, and encodes the reply frame (response code first, spec §6.1).
// It never returns an error itself: all failures become an encoded
// NAMESPACE_* / PROTOCOL_ERROR response so the connection stays open for
// the next request.
func (srv *Server) dispatch(ctx context.Context, holder string, req []byte) []byte {
	dec := wire.NewDecoder(req)
	hdr, err := dec.GetFrameHeader()
	if err != nil {
		return errorReply(nserrors.MALFORMED_REQUEST)
	}
	if hdr.Version != namespace.ProtocolVersion {
		return errorReply(nserrors.PROTOCOL_ERROR)
	}

	switch hdr.OpCode {
	case namespace.OpOpen, namespace.OpCreate:
		return srv.handleOpenCreate(ctx, dec, hdr.OpCode)
	case namespace.OpClose:
		return srv.handleClose(dec)
	case namespace.OpMkdir:
		return srv.handleMkdir(ctx, dec)
	case namespace.OpUnlink:
		return srv.handleUnlink(ctx, dec)
	case namespace.OpExists:
		return srv.handleExists(ctx, dec)
	case namespace.OpAttrSet:
		return srv.handleAttrSet(ctx, dec)
	case namespace.OpAttrGet:
		return srv.handleAttrGet(ctx, dec)
	case namespace.OpAttrDel:
		return srv.handleAttrDel(ctx, dec)
	case namespace.OpReaddir:
		return srv.handleReaddir(ctx, dec)
	case namespace.OpLock, namespace.OpTryLock:
		return srv.handleLock(ctx, holder, dec)
	case namespace.OpRelease:
		return srv.handleRelease(ctx, holder, dec)
	case namespace.OpCheckSequencer:
		// Per DESIGN.md: this repo's original_source supplement defines
		// check_sequencer as a named NOT_IMPLEMENTED rather than guessing
		// at unspecified server-side verification semantics.
		return errorReply(nserrors.NOT_IMPLEMENTED)
	case namespace.OpStatus:
		return okReply(nil)
	default:
		return errorReply(nserrors.PROTOCOL_ERROR)
	}
}

func okReply(encode func(*wire.Encoder)) []byte {
	enc := wire.NewEncoder()
	enc.PutResponseCode(nserrors.OK)
	if encode != nil {
		encode(enc)
	}
	return enc.Bytes()
}

func errorReply(code nserrors.Code) []byte {
	enc := wire.NewEncoder()
	enc.PutResponseCode(code)
	return enc.Bytes()
}

func codeFromErr(err error) nserrors.Code {
	return nserrors.CodeOf(err)
}

func (srv *Server) allocHandle(path string, flags int32) int64 {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.nextHandle++
	h := srv.nextHandle
	srv.handles[h] = &openHandle{path: path, flags: flags}
	return h
}

func (srv *Server) lookupHandle(h int64) (*openHandle, bool) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	oh, ok := srv.handles[h]
	return oh, ok
}

func (srv *Server) handleOpenCreate(ctx context.Context, dec *wire.Decoder, op int32) []byte {
	path, err := dec.GetVstr()
	if err != nil {
		return errorReply(nserrors.PROTOCOL_ERROR)
	}
	flags, err := dec.GetI32()
	if err != nil {
		return errorReply(nserrors.PROTOCOL_ERROR)
	}

	created := false
	if namespace.OpenFlag(flags)&namespace.OpenFlagCreate != 0 {
		ok, err := srv.store.EnsureFile(ctx, path)
		if err != nil {
			return errorReply(codeFromErr(err))
		}
		created = ok
	} else {
		exists, err := srv.store.Exists(ctx, path)
		if err != nil {
			return errorReply(codeFromErr(err))
		}
		if !exists {
			return errorReply(nserrors.NAMESPACE_FILE_NOT_FOUND)
		}
	}

	handle := srv.allocHandle(path, flags)
	return okReply(func(e *wire.Encoder) {
		e.PutI64(handle)
		e.PutBool(created)
		e.PutI64(0) // lock_generation: mirrored only after a grant
	})
}

func (srv *Server) handleClose(dec *wire.Decoder) []byte {
	handle, err := dec.GetI64()
	if err != nil {
		return errorReply(nserrors.PROTOCOL_ERROR)
	}
	srv.mu.Lock()
	delete(srv.handles, handle)
	srv.mu.Unlock()
	return okReply(nil)
}

func (srv *Server) handleMkdir(ctx context.Context, dec *wire.Decoder) []byte {
	path, err := dec.GetVstr()
	if err != nil {
		return errorReply(nserrors.PROTOCOL_ERROR)
	}
	if err := srv.store.Mkdir(ctx, path); err != nil {
		return errorReply(codeFromErr(err))
	}
	return okReply(nil)
}

func (srv *Server) handleUnlink(ctx context.Context, dec *wire.Decoder) []byte {
	path, err := dec.GetVstr()
	if err != nil {
		return errorReply(nserrors.PROTOCOL_ERROR)
	}
	if err := srv.store.Unlink(ctx, path); err != nil {
		return errorReply(codeFromErr(err))
	}
	return okReply(nil)
}

func (srv *Server) handleExists(ctx context.Context, dec *wire.Decoder) []byte {
	path, err := dec.GetVstr()
	if err != nil {
		return errorReply(nserrors.PROTOCOL_ERROR)
	}
	exists, err := srv.store.Exists(ctx, path)
	if err != nil {
		return errorReply(codeFromErr(err))
	}
	return okReply(func(e *wire.Encoder) { e.PutBool(exists) })
}

func (srv *Server) handleAttrSet(ctx context.Context, dec *wire.Decoder) []byte {
	handle, err := dec.GetI64()
	if err != nil {
		return errorReply(nserrors.PROTOCOL_ERROR)
	}
	attr, err := dec.GetVstr()
	if err != nil {
		return errorReply(nserrors.PROTOCOL_ERROR)
	}
	value, err := dec.GetBytes32()
	if err != nil {
		return errorReply(nserrors.PROTOCOL_ERROR)
	}
	oh, ok := srv.lookupHandle(handle)
	if !ok {
		return errorReply(nserrors.NAMESPACE_INVALID_HANDLE)
	}
	if err := srv.store.AttrSet(ctx, oh.path, attr, value); err != nil {
		return errorReply(codeFromErr(err))
	}
	return okReply(nil)
}

func (srv *Server) handleAttrGet(ctx context.Context, dec *wire.Decoder) []byte {
	handle, err := dec.GetI64()
	if err != nil {
		return errorReply(nserrors.PROTOCOL_ERROR)
	}
	attr, err := dec.GetVstr()
	if err != nil {
		return errorReply(nserrors.PROTOCOL_ERROR)
	}
	oh, ok := srv.lookupHandle(handle)
	if !ok {
		return errorReply(nserrors.NAMESPACE_INVALID_HANDLE)
	}
	value, err := srv.store.AttrGet(ctx, oh.path, attr)
	if err != nil {
		return errorReply(codeFromErr(err))
	}
	return okReply(func(e *wire.Encoder) { e.PutBytes32(value) })
}

func (srv *Server) handleAttrDel(ctx context.Context, dec *wire.Decoder) []byte {
	handle, err := dec.GetI64()
	if err != nil {
		return errorReply(nserrors.PROTOCOL_ERROR)
	}
	attr, err := dec.GetVstr()
	if err != nil {
		return errorReply(nserrors.PROTOCOL_ERROR)
	}
	oh, ok := srv.lookupHandle(handle)
	if !ok {
		return errorReply(nserrors.NAMESPACE_INVALID_HANDLE)
	}
	if err := srv.store.AttrDel(ctx, oh.path, attr); err != nil {
		return errorReply(codeFromErr(err))
	}
	return okReply(nil)
}

func (srv *Server) handleReaddir(ctx context.Context, dec *wire.Decoder) []byte {
	handle, err := dec.GetI64()
	if err != nil {
		return errorReply(nserrors.PROTOCOL_ERROR)
	}
	oh, ok := srv.lookupHandle(handle)
	if !ok {
		return errorReply(nserrors.NAMESPACE_INVALID_HANDLE)
	}
	entries, err := srv.store.Readdir(ctx, oh.path)
	if err != nil {
		return errorReply(codeFromErr(err))
	}
	return okReply(func(e *wire.Encoder) {
		e.PutI32(int32(len(entries)))
		for _, de := range entries {
			e.PutDirEntry(wire.DirEntry{Name: de.Name, IsDir: de.IsDir})
		}
	})
}

// handleLock services both OpLock and OpTryLock identically: a single,
// non-blocking TryLock attempt against the Store. True blocking semantics
// (PENDING followed by an asynchronous grant once the lock is released)
// would require a server-to-client push channel; nstransport's only
// Transport implementation is strictly request/reply over one persistent
// connection, so OpLock degrades to OpTryLock's behavior rather than
// hanging a request forever (see DESIGN.md Open Question decisions).
func (srv *Server) handleLock(ctx context.Context, holder string, dec *wire.Decoder) []byte {
	handle, err := dec.GetI64()
	if err != nil {
		return errorReply(nserrors.PROTOCOL_ERROR)
	}
	mode, err := dec.GetI32()
	if err != nil {
		return errorReply(nserrors.PROTOCOL_ERROR)
	}

	oh, ok := srv.lookupHandle(handle)
	if !ok {
		return errorReply(nserrors.NAMESPACE_INVALID_HANDLE)
	}

	result, err := srv.store.TryLock(ctx, oh.path, holder, toStoreLockMode(namespace.LockMode(mode)))
	if err != nil {
		return errorReply(codeFromErr(err))
	}
	if !result.Granted {
		return okReply(func(e *wire.Encoder) { e.PutI32(int32(namespace.LockNone)) })
	}

	srv.mu.Lock()
	oh.isLocked = true
	oh.lockMode = namespace.LockMode(mode)
	oh.lockGen = result.Generation
	srv.mu.Unlock()

	return okReply(func(e *wire.Encoder) {
		e.PutI32(int32(namespace.LockGranted))
		e.PutI64(result.Generation)
	})
}

func (srv *Server) handleRelease(ctx context.Context, holder string, dec *wire.Decoder) []byte {
	handle, err := dec.GetI64()
	if err != nil {
		return errorReply(nserrors.PROTOCOL_ERROR)
	}
	oh, ok := srv.lookupHandle(handle)
	if !ok {
		return errorReply(nserrors.NAMESPACE_INVALID_HANDLE)
	}
	if err := srv.store.Release(ctx, oh.path, holder); err != nil {
		return errorReply(codeFromErr(err))
	}
	srv.mu.Lock()
	oh.isLocked = false
	srv.mu.Unlock()
	return okReply(nil)
}

func toStoreLockMode(m namespace.LockMode) LockMode {
	if m == namespace.LockShared {
		return LockShared
	}
	return LockExclusive
}
