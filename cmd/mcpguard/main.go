// Command mcpguard scans MCP servers for threats and proxies calls to
// them under enforced rules.
package main

import "github.com/mcpguard/mcpguard/cmd/mcpguard/cmd"

func main() {
	cmd.Execute()
}
