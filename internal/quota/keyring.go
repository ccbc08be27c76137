package quota

// Keyring holds per-provider API credentials. Keys are loaded once at
// process start and handed to adapters at construction; they are never
// logged and never appear in responses.
type Keyring struct {
	keys map[string]string
}

// NewKeyring copies the given provider -> key mapping. Empty values are
// dropped so Has reflects usable credentials only.
func NewKeyring(keys map[string]string) *Keyring {
	kr := &Keyring{keys: make(map[string]string, len(keys))}
	for provider, key := range keys {
		if key == "" {
			continue
		}
		kr.keys[provider] = key
	}
	return kr
}

// Key returns the credential for a provider, or "" when none is set.
func (k *Keyring) Key(provider string) string {
	if k == nil {
		return ""
	}
	return k.keys[provider]
}

// Has reports whether a usable credential exists for the provider.
func (k *Keyring) Has(provider string) bool {
	return k.Key(provider) != ""
}
