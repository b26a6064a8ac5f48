package store

// Stores bundles every store interface a running gateway needs. Fields
// mirror what internal/store/file.NewFileStores actually constructs in this
// workspace; Agents is nil in that (standalone) mode and only populated by
// an internal/store/pg-backed managed-mode wiring.
type Stores struct {
	Sessions      SessionStore
	Memory        MemoryStore
	Cron          CronStore
	Pairing       PairingStore
	Skills        SkillStore
	Providers     ProviderStore
	ConfigSecrets ConfigSecretsStore
	Approvals     ApprovalStore
	Agents        AgentStore // nil in standalone mode
}
