// Package server wires configuration, storage, the network fetcher, the
// agent host and the gin router into a runnable gateway.
package server
