// Package txdemo runs the author transaction walkthrough: an insert whose
// transaction is discarded, inserts that are committed, and a read-back of the
// table. Every step runs on one session, one transaction at a time.
package txdemo
