// Package host is the in-process environment that runs the caching agent
// for a set of attached pages.
//
// It plays the part a browser plays for service workers: it owns the single
// Registration, routes page requests to the controlling worker, delivers
// lifecycle events and notifications to pages over per-page channels, and
// moves pages to a new controller when a worker claims them. Pages and
// workers never share state; everything crosses this package as a message.
package host
