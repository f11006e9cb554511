// Package redipubsub provides a managed Redis Pub/Sub connection.
//
// A Conn multiplexes (P)SUBSCRIBE interest from many in-process
// subscribers onto a single long-lived connection to a Redis node. It
// reconnects automatically on failure, with exponential backoff, and
// preserves subscriber intent (what is subscribed to) across
// disconnections. Redis commands other than (P)SUBSCRIBE/(P)UNSUBSCRIBE,
// and publisher-side PUBLISH, are out of scope — see cmd/redipubsub-probe
// for a minimal subscriber built on top of this package.
package redipubsub
