/*
Package naviserver provides a multithreaded HTTP/1.1 server framework
built from pluggable drivers, URL-space routing, a filter/trace/cleanup
pipeline, and named-resource connection pools, modeled on NaviServer's
architecture.

Request lifecycle

A Driver (core/driver) owns a listen socket, accepting connections and
performing non-blocking read-ahead on the shared sock callback engine
(core/poller) until a full request has been parsed (core/http). The
driver then hands the connection off to a named ConnPool (core/connpool),
which dispatches it to a worker goroutine from its elastic fleet. The
worker runs the filter/trace/cleanup chain (core/filter) around a
lookup in the URL-space router (core/urlspace), invokes the matched
handler, and returns the response through the response pipeline
(core/response) — offloading large sends and uploads onto the writer
and spooler (core/writer) rather than blocking the worker.

Quick start

	package main

	import (
		"log"

		"github.com/searchktools/naviserver/app"
		"github.com/searchktools/naviserver/config"
		"github.com/searchktools/naviserver/core/connpool"
		"github.com/searchktools/naviserver/core/response"
		"github.com/searchktools/naviserver/core/writer"
	)

	func main() {
		cfg, _, err := config.New(".")
		if err != nil {
			log.Fatal(err)
		}

		a, err := app.New(cfg, nil)
		if err != nil {
			log.Fatal(err)
		}

		a.HandleFunc("GET", "/hello", func(c *connpool.Conn, p *response.Pipeline, sender writer.Sender) error {
			return p.ReturnData(c, sender, c.Sock.FD, 200, []byte("Hello, World!"), "text/plain")
		})

		if err := a.Run(); err != nil {
			log.Fatal(err)
		}
	}

Modules

The framework is organized into several packages:

  - app: composition root wiring every subsystem and driving the
    process lifecycle
  - config: layered configuration via viper
  - core/nsync: thread spawn/join and TLS primitives
  - core/poller: the single-goroutine sock callback engine (epoll/kqueue)
  - core/http: request parsing, headers, chunked transfer decoding
  - core/driver: listen/accept/read-ahead and ConnPool handoff
  - core/urlspace: per-virtual-server URL-space routing trees
  - core/filter: the filter/trace/cleanup pipeline
  - core/connpool: named, elastic connection-pool worker scheduler
  - core/response: status/header synthesis and the response write API
  - core/writer: background offload of large sends and uploads
  - core/respool: the generic named-resource pool
  - core/dbpool: a respool instantiation backed by gorm/sqlite
  - core/jobqueue: a respool-style background job-worker fleet
  - core/callbacks: prestartup/startup/ready/shutdown/exit/signal hooks
  - core/cookie: Set-Cookie synthesis and header sanitisation
  - core/pools: shared byte-slice pooling for read and write buffers

See DESIGN.md for how each package is grounded and SPEC_FULL.md for
the full specification this implementation follows.
*/
package naviserver
