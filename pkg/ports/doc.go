/*
Package ports defines the driven ports (interfaces) of the saga engine.

These interfaces decouple the execution logic from external implementations,
allowing the manager to work with various storage backends, brokers and lock
services.

# Key Interfaces

  - ExecutionStore: Persists and loads execution records with optimistic versioning.
  - CommandSender: Publishes the command of a remote step.
  - ReplySubscriber: Delivers replies from a reply topic to a handler.
  - DistributedLocker: Provides distributed locking so one driver runs per execution.
*/
package ports
