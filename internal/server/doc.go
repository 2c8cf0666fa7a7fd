// Package server hosts the Fiber HTTP service, the request middleware chain and
// the app registry that maps Host headers onto worker registrations.
// The registry owns one worker.Registration per configured app; the Deployer
// turns app configs into worker versions and feeds them to Registration.Update.
package server
