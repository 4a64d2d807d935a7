// Package dispatch carries out the side effects requested by the activation
// machine.
//
// Registration requests go either to the REST API (HTTP) or to the host
// application over the notification bus (Custom); Selector picks one per
// request from the preferences recorded by the push facade. BusNotifier
// publishes the activation callbacks on the bus.
//
// Every dispatcher reports the outcome of each request to the sink exactly
// once, as the matching success or *Failed event.
package dispatch
