/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package ratelimit implements the sliding-window admission-decision algorithm
// over a per-key timestamp log.
//
// The admission history of a key is a Log: unix-second timestamps of admitted
// requests in strictly newest-first order. Decide trims the log against the
// biggest rule window, counts each rule's window independently, and either
// admits the request (recording its timestamp) or rejects it with the retry
// time dictated by the strictest violated rule. Rejected attempts do not
// consume capacity unless the CountRejected policy is enabled.
//
// The package also defines the supporting wire-level types: Rule (the
// "<limit>:<interval>" pair), Decision, and Descriptor (the canonical
// encoding of a key with its rules, shared by the response cache and the
// actor request format).
package ratelimit
