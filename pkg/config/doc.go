/*
Package config defines the explicit configuration struct passed to every
nodeboi component.

Configuration is loaded once in main from an optional TOML file layered over
Default() and handed to component constructors. There is deliberately no
package-level mutable state: a component sees exactly the Config it was
constructed with.

# File Format

	instance_root = "/home/operator"
	network_name  = "nodeboi-net"
	max_port_probes = 50

	[ports.el-p2p]
	base = 30303
	increment = 1
	protocol = "tcp"

	[[aux_services]]
	name = "monitoring"
	dir = "/home/operator/monitoring"

Unknown keys are rejected rather than silently ignored, which catches typos
in operator-edited files.
*/
package config
