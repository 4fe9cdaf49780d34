package domain

// Tracked contract names. Each name selects an event schema set in the chain
// adapter and an address in configuration.
const (
	ContractPermissionedToken = "PermissionedToken"
	ContractVault             = "Vault"
	ContractTrancheFactory    = "TrancheFactory"
	ContractSPVRegistry       = "SPVRegistry"
)

// Contract is one tracked contract deployment.
type Contract struct {
	Name    string
	Address string
}

// TrackedContracts lists the contract names the pipeline knows schemas for.
var TrackedContracts = []string{
	ContractPermissionedToken,
	ContractVault,
	ContractTrancheFactory,
	ContractSPVRegistry,
}
