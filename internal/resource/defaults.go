package resource

// Default returns the registry of built-in resource types.
func Default() *Registry {
	return NewRegistry(
		patientDefinition(),
		organizationDefinition(),
		encounterDefinition(),
		encounterReportDefinition(),
		serviceRequestDefinition(),
	)
}
