// Package notifications delivers dispatcher events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and degrades to a no-op when no topic is set. Individual events
// can be switched off in the [notifications] section; suppressed events are
// dropped without an HTTP call.
package notifications
