package mcp

// Tool parameter descriptions and error messages shared across tools.
const (
	descConnectionID = "The connection ID returned by ssh_connect (e.g. conn-1)"

	errConnectionIDRequired = "connection_id is required"
	errCommandRequired      = "command is required"

	defaultExecTimeoutMs = 30000
)
