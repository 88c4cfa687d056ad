// Package invigil is the Go client for the invigil daemon's control
// socket. The bundled agent and CLI are built on it; site tooling can
// use it to drive the same control surface.
//
// A Client owns one socket connection, and the daemon fixes the caller
// identity for that connection when it is accepted. A process that
// registers itself with ProtectPid therefore keeps issuing the
// service-only functions (HardLock, ProtectUI, Stealth, SetBannedApps)
// on the same Client; a fresh connection from any other process is
// refused for those.
package invigil
