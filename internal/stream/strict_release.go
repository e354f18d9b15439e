//go:build !agentgate_debug

package stream

const strictDefault = false
