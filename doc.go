// Package botcomet is the root of the botcomet station module.
//
// Botcomet connects comets, the bridges to chat platforms, with plugins,
// the processes that implement bot behaviour, through a central station.
// Plugins never see real chat-platform identifiers and never have their
// traffic routed before they prove possession of the private key behind
// their registered address.
//
// # Packages
//
// The station itself lives in package station; the building blocks it is
// made of are:
//
//   - protocol: wire envelopes and the closed set of message payloads
//   - vault: the real/obfuscated identifier bijection
//   - idgen: unpredictable obfuscated identifiers
//   - ctxcache: per-connection request/reply correlation
//   - crypto: plugin certificates, addresses and sealed challenges
//   - directory: plugin address to public key lookup
//   - transport: WebSocket and in-memory links
//   - limits: size bounds shared by all of the above
//
// Packages plugin and comet implement the two client sides.
//
// # Getting Started
//
// Generate a plugin certificate and register its public key:
//
//	certgen --out keys --name echo
//	cat > plugins.yaml <<EOF
//	plugins:
//	  - name: echo
//	    public_key_file: keys/echo.pub.pem
//	EOF
//
// Run the station:
//
//	station --directory plugins.yaml --listen :8080
//
// Connect a plugin:
//
//	cert, err := crypto.LoadCertificate(publicPEM, privatePEM)
//	client, err := plugin.Dial(ctx, "ws://localhost:8080/", cert, transport.DefaultOptions())
//	go client.Run(ctx)
//	client.OnMessage(func(env *protocol.Envelope, payload protocol.Payload) {
//	    if msg, ok := payload.(*protocol.MessageCreate); ok {
//	        client.Send(env.Src, &protocol.MessageSend{ChannelID: msg.ChannelID, Content: "hi"})
//	    }
//	})
//	id, err := client.Authenticate(ctx)
package botcomet
