// Package server implements the wharfd daemon.
//
// The daemon listens on a Unix domain socket for JSON-encoded commands.
// Each connection carries a single request-response exchange: the client
// sends a newline-delimited JSON envelope, the server dispatches the
// command, and writes the result back before closing the connection.
//
// Build commands carry a full pipeline definition and are delegated to the
// build package, which in turn uses the fetch and runtime packages for
// source checkouts and container operations against containerd.
//
// Example usage:
//
//	srv, err := server.New(server.Config{
//	    ContainerdAddress:   "/run/containerd/containerd.sock",
//	    ContainerdNamespace: "wharfd",
//	})
//	if err != nil {
//	    return err
//	}
//
//	if err := srv.Start(); err != nil {
//	    return err
//	}
//	defer srv.Stop()
//
//	srv.Wait()
package server
