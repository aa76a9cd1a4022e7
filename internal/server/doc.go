// Package server implements the connection layer of exphttp: listening,
// worker scheduling, TLS, keep-alive and the per-request driver.
//
// The server does not use net/http. Every accepted connection is owned by
// one worker from a fixed pool for its whole lifetime, and requests are read
// with the framing rules of the wire package.
//
// # Request Pipeline
//
// Each request on a connection goes through the same steps:
//  1. Keep-alive decision (decoy mode always closes)
//  2. Authorization, answering 429 when throttled and 401 when denied
//  3. Declared Content-Length against MaxBodySize (413)
//  4. WebSocket upgrade for paths under Config.WebSocketPath
//  5. Method resolution through a dispatch.Resolver, or a 404/405 miss
//  6. Handler invocation with panic recovery (500)
//  7. Response write, metrics and the access log line
//
// Streaming responses are copied in StreamChunkSize pieces and always end
// the connection.
//
// # TLS
//
// Config.TLS enables TLS on every accepted connection. The handshake must
// finish within TLSHandshakeTimeout; failed handshakes close the socket
// silently. GenerateSelfSigned produces an in-memory ECDSA certificate for
// ad hoc use.
//
// # Usage Example
//
//	table := dispatch.NewTable()
//	table.Handle("GET", files.Get)
//	resolver := &dispatch.Resolver{Table: table}
//
//	srv, err := server.New(server.DefaultConfig(), resolver)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//
//	ln, err := srv.Listen(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	// Serve blocks until ctx is cancelled or the listener fails
//	if err := srv.Serve(ctx, ln); err != nil {
//	    log.Fatal(err)
//	}
//
// # Graceful Shutdown
//
// When the serve context is cancelled:
//  1. The listener stops accepting
//  2. Connections still waiting for a worker are closed
//  3. In-flight connections get ShutdownTimeout to finish
//  4. Remaining connections are closed forcefully
package server
