package export

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"clipd/internal/runtime"
)

// ErrNoProvider means the runtime reports no usable provider, not even CPU.
var ErrNoProvider = errors.New("no execution provider available")

// SelectProvider applies the device policy: an explicit "cuda" request gets
// CUDA when available, "cpu" gets CPU, and anything else prefers CUDA when
// available. Whatever is chosen degrades to CPU if the runtime does not offer
// it; only a missing CPU provider is an error.
func SelectProvider(requested string, available []runtime.Provider, log zerolog.Logger) (runtime.Provider, error) {
	req := strings.ToLower(strings.TrimSpace(requested))
	chosen := runtime.ProviderCPU
	switch req {
	case "cuda":
		if runtime.Contains(available, runtime.ProviderCUDA) {
			chosen = runtime.ProviderCUDA
		} else {
			log.Warn().Msg("cuda requested but not available; using cpu")
		}
	case "cpu":
	default:
		log.Warn().Str("device", requested).Msg("unknown device; trying cuda, then cpu")
		if runtime.Contains(available, runtime.ProviderCUDA) {
			chosen = runtime.ProviderCUDA
		}
	}
	if !runtime.Contains(available, chosen) {
		if runtime.Contains(available, runtime.ProviderCPU) {
			log.Error().Str("provider", string(chosen)).Msg("selected provider not available; using cpu")
			return runtime.ProviderCPU, nil
		}
		return "", fmt.Errorf("%w (available: %v)", ErrNoProvider, available)
	}
	log.Info().Str("provider", string(chosen)).Msg("execution provider selected")
	return chosen, nil
}
