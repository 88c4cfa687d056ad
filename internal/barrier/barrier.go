// Package barrier provides the speculation fence the dispatcher inserts
// between a branch on a caller-controlled length and the dependent
// payload reads that branch guards (Spectre-v1 class hardening). Call
// Speculation immediately after every such bounds check, before touching
// bytes at any offset derived from it.
package barrier
