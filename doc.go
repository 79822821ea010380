// Package guestbookd exposes the Go APIs behind the guestbook service: a
// small HTTP API over a single-document entry store, with pluggable memory,
// disk, and S3-compatible backends. The server is designed to run cleanly as
// PID 1, but the package also makes it easy to embed the server in tests or
// larger programs, or talk to guestbookd from Go clients.
//
// # Running a server
//
// The server listens on the network specified by Config.ListenProto (default
// "tcp") and address Config.Listen.
//
//	cfg := guestbookd.Config{
//	    Store:  "disk:///var/lib/guestbookd/guestbook.json",
//	    Listen: ":3000",
//	}
//	srv, err := guestbookd.NewServer(cfg)
//	if err != nil { log.Fatal(err) }
//	go func() {
//	    if err := srv.Start(); err != nil {
//	        log.Fatalf("guestbookd: %v", err)
//	    }
//	}()
//	defer func() {
//	    if err := srv.Shutdown(context.Background()); err != nil {
//	        log.Printf("guestbookd shutdown: %v", err)
//	    }
//	}()
//
// Destructive operations (clearing the guestbook, bulk import) are gated by
// Config.AdminToken, matched against the request's bearer token. When no
// token is configured the gate is open; this is a deliberate default for
// local deployments and must be set in anything reachable from the internet.
//
// # Storage backends
//
// Config.Store selects the backend by URL scheme: mem:// keeps entries in
// process memory, disk://path persists one JSON document with atomic
// rename-in-place writes, and s3://host[:port]/bucket[/prefix] stores the
// document in any S3-compatible object store.
//
// # Clients
//
// The client package provides the Go SDK, including a Feed type that keeps a
// locally rendered view of the entries in sync with the server.
package guestbookd
