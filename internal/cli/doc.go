// Package cli implements the agentctl command tree.
package cli
