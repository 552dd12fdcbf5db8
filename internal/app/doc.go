// Package app wires configuration, executor modules, the scorer and the
// migration factory into a runnable application instance, and owns its
// lifecycle concerns such as logging and the health check server.
package app
