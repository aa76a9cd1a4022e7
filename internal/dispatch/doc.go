// Package dispatch maps request methods onto handlers.
//
// The fixed Table holds the ordinary verbs (GET, PUT, FETCH, INFO and so on).
// In decoy mode a DecoyTable, generated once at startup, adds five random
// tokens that stand in for the upload, download, info, ping and notepad
// operations, and unknown verbs that carry a body fall back to an implicit
// upload. The Resolver combines both and answers OPTIONS itself so preflight
// never reveals more than the advertised method list.
package dispatch
