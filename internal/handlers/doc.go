// Package handlers provides the default method handlers of exphttp.
//
// Every handler has the dispatch.Handler signature and works over one
// served directory:
//
//   - GET streams files (index.html for "/" and directories)
//   - POST, PUT, PATCH and NONE store the body under uploads/
//   - FETCH streams a file as an attachment with X-File-* headers
//   - INFO reports metadata and paginated directory listings
//   - PING reports liveness and, outside decoy mode, server metrics
//   - NOTE stores opaque note blobs under uploads/notes/
//
// In decoy mode the same handlers sit behind generated tokens and
// DecoyUpload accepts bodies sent with unknown verbs.
//
// Paths are resolved relative to the root and never leave it. Symlinks are
// refused, and a small set of names (.env, .git, the decoy token file and
// friends) is never served. Sandbox mode further limits reads to uploads/,
// static/ and files directly under the root.
package handlers
