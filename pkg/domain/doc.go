/*
Package domain contains the core value types of the saga engine.

It defines the data that flows between a saga definition, its running execution,
the broker and the storage backends. This package is kept pure and free of I/O,
so every adapter can depend on it without pulling in a transport or a driver.

# Key Entities

  - SagaContext: The ordered name -> value map accumulated across steps.
  - SagaStatus / StepStatus: Lifecycle of an execution and of each of its steps.
  - Command / Reply: What a remote step publishes and what it waits for.
  - ExecutionRecord: The backend-agnostic persisted form of an execution.
  - Outcome: The tagged result of driving an execution (Paused, Failed, Finished).
*/
package domain
