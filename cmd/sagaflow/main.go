// Command sagaflow operates the stores and brokers of sagaflow deployments.
//
// Definitions are Go code, so this binary registers none: it lists, inspects
// and removes stored executions. Services embedding sagaflow build the same
// command tree over their own registry with cli.Execute.
package main

import (
	"github.com/aretw0/sagaflow/internal/cli"
	"github.com/aretw0/sagaflow/pkg/registry"
)

func main() {
	cli.Execute(registry.New())
}
