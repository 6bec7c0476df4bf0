// Package server assembles and runs scanbot.
//
// A Server owns the scan registry, runner, and dispatcher, the chat
// frontends that feed them (Telegram webhook, Matrix sync), the scan history
// store, and the listeners:
//
//	HTTP   /telegram            Telegram webhook
//	       /healthz, /health    liveness ("OK")
//	       /health/ready        readiness (JSON)
//	       /api/...             admin API, JWT-guarded when auth.jwt_secret is set
//	gRPC   grpc.health.v1.Health
//
// With tailscale enabled the listeners live on a tsnet node instead, and
// Funnel can provide the public URL used to register the Telegram webhook.
//
// On shutdown the registry is closed first so running scans stop and send
// their final notice while the frontends can still deliver it.
package server
