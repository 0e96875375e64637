// Command server runs the tilefetch image loading service.
//
// Configuration comes from environment variables (see the config
// package); the -port flag overrides PORT for local runs.
package main
