// Package icauth manages authenticated sessions against an Internet
// Computer backend. It drives three interchangeable identity providers
// (a popup-signer federation, a platform identity client, and a
// message-signing Bitcoin wallet), persists a renewable 30 day session
// record, and rebuilds the set of canister actors that depend on the
// active identity whenever that identity changes.
//
// The entry point is SessionManager, which owns the authentication
// state machine and the background refresh timer. Everything else in
// this module is a collaborator it orchestrates: delegation builds
// delegation chain identities, provider/* implement the login flows,
// agent builds canister call handles, store persists session records,
// and canisters discovers the user's secondary canisters.
package icauth
