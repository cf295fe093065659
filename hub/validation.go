package hub

// ValidationService answers whether a request targets a provider this bridge
// instance was configured with.
type ValidationService struct {
	availableProviders []string
}

func NewValidationService(availableProviders []string) *ValidationService {
	return &ValidationService{availableProviders: availableProviders}
}

func (s *ValidationService) IsSupportedProvider(provider string) bool {
	for _, p := range s.availableProviders {
		if p == provider {
			return true
		}
	}
	return false
}
