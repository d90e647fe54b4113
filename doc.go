/*
Package edgegate provides an API gateway core: it resolves inbound HTTP
requests against the published APIs of a configuration snapshot and
enforces the security and rate limit policy of the matched operation
before the request reaches the assembly dispatcher.

Resolution runs the same pipeline for every request:

  - acquire the current snapshot's routing table, cached and reference
    counted against the snapshot store
  - match the request path and method against the templated paths of the
    catalog entries, keeping the most specific candidates
  - answer CORS preflights directly from the matched paths
  - evaluate the declared security requirements of the candidates
  - select the single entry the request is served by, disambiguating
    plan ties via a request header and checking API and subscription
    state
  - reserve one call in every rate limit scope of the operation

The gateway is started either through the Run function with programmatic
Options, or through the edgegate command which maps command line flags
and a YAML file to the same Options.
*/
package edgegate
