/*
Package agent implements the background caching agent.

A Worker is one agent instance bound to one cache version. Its pieces:

  - VersionManager seeds the version's store from the app-shell Manifest
    on install and deletes every other version's store on activate.
  - Policy decides which runtime responses may be cached and prunes the
    store oldest-first once it grows past its threshold.
  - Interceptor answers every request: network first for navigations,
    cache first for everything else, and a synthetic 503 when both fail.

A Registration owns the installing, waiting and active workers for one
scope and drives their lifecycle:

	parsed → installing → installed → activating → activated
	                 ↘          ↘
	                  redundant (superseded)

A worker that finishes installing while another is active waits in
installed until it receives a skipWaiting command. The first worker of a
registration activates immediately. After activation the registration
claims every attached client and broadcasts CACHE_UPDATED through the
Notifier.

The agent never talks to pages directly; it sees them through the Clients
interface and reaches them only with protocol messages.
*/
package agent
