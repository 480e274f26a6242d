// Package station implements the botcomet station: the relay that
// authenticates comets and plugins and routes messages between them.
//
// Every accepted link is served by one goroutine running [Router.Serve].
// A link starts unidentified and may only identify itself: a comet with
// comet_connect, a plugin with plugin_connect followed by a successful
// challenge. Until then nothing it sends is routed. Once authenticated, its
// messages are forwarded by client id, with chat-platform identifiers
// obfuscated on their way to plugins and revealed on their way back to
// comets.
//
// Basic usage:
//
//	router := station.NewRouter(dir, station.DefaultOptions())
//	go router.RunJanitor(ctx)
//	http.Handle("/", station.NewHandler(ctx, router, upgrader))
package station
