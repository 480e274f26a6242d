// Package transport provides the message-oriented duplex links the station
// speaks over.
//
// A [Link] carries whole messages in both directions. The production
// implementation is a WebSocket connection ([WebSocketLink]) with ping/pong
// keepalive and a bounded read size; [Pipe] returns a connected in-memory
// pair with the same semantics for tests and embedded use.
//
// Accepting links on the station side:
//
//	upgrader := transport.NewUpgrader(transport.DefaultOptions(), []string{"*"})
//	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
//	    link, err := upgrader.Accept(w, r)
//	    if err != nil {
//	        return
//	    }
//	    go serve(link)
//	})
//
// Dialing from a comet or plugin:
//
//	link, err := transport.Dial(ctx, "ws://localhost:8080/", transport.DefaultOptions())
//
// Links serialize their own writes, so a Link may be written to from several
// goroutines. Only one goroutine may read.
package transport
