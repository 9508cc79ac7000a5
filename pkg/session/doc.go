/*
Package session serializes access to saga executions.

It guarantees at most one active driver per execution ID: an in-process,
reference-counted mutex per ID, optionally backed by a distributed lock so
several replicas of the manager agree as well.
*/
package session
