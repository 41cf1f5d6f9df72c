//go:build !debug

package chainbase

const debugBuild = false
