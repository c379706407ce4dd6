// Command swarmflow is the operational CLI for the swarm engine:
// validate configurations, run a distributed worker, print the version.
package main
