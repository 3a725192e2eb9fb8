/*
Package jsbox runs untrusted JavaScript inside a host process under
enforced time and memory budgets, with bidirectional value and object
exchange between host and guest.

# Overview

A VM wraps one isolated guest environment built on the goja engine. Host
objects project into the guest as read-only namespaces with identity-stable
methods; guest functions and objects come back as live proxies. A shared
background watchdog force-terminates executions that exceed their budgets
while the rest of the process keeps running.

# Usage Example

	vm, err := jsbox.New(jsbox.Options{
		Name:       "app",
		HostObject: api,
		TimeLimit:  time.Second,
	})
	if err != nil {
		return err
	}
	defer vm.Close()

	result, err := vm.ExecuteString("app.Greet('world')", "greet.js", jsbox.ExecOptions{})
	if jsbox.IsResourceTermination(err) {
		// budget exhausted; the VM stays usable
	}

# Integration

Structured logging goes through uber/zap, metrics through Prometheus, and
defaults load from the environment; see the cmd/jsbox runner for a fully
wired example.
*/
package jsbox
