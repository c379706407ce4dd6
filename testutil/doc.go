// Package testutil provides shared helpers for swarmflow tests: bounded
// test contexts, an in-process Redis store and configurable stub runners.
package testutil
