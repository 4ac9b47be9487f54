package store

import _ "embed"

//go:generate go run ../../tools/schemagen -o schemas

// Permissive structural schemas guarding collection reads. They reject
// payloads that lost their array shape or dropped identity fields, the
// two corruption modes seen with external tools editing state in place.
var (
	//go:embed schemas/work_claims.schema.json
	workClaimsSchemaJSON []byte

	//go:embed schemas/agent_status.schema.json
	agentStatusSchemaJSON []byte

	//go:embed schemas/coordination_log.schema.json
	coordinationLogSchemaJSON []byte
)
