// Package kinetic implements the ASL signal models: the Buxton
// single-compartment model and its multi-echo and multi-diffusion
// extensions, plus the physical constants they depend on.
//
// All evaluators are pure functions of their inputs. The non-linear solver
// probes them repeatedly, including at and near the parameter bounds, so
// every evaluator must return finite values for any parameter vector inside
// its bounds.
package kinetic

// Constants holds the physical constants of the kinetic models. Relaxation
// times are in milliseconds. Each orchestrator owns its own copy; there is
// no shared mutable default, and a constants value must not be changed while
// a fit using it is in flight.
//
// Default values follow Petitclerc et al., "Ultra-long-TE arterial spin
// labeling reveals rapid and brain-wide blood-to-CSF water transport in
// humans", NeuroImage (2021), doi: 10.1016/j.neuroimage.2021.118755.
type Constants struct {
	// T1Blood is the longitudinal relaxation time of arterial blood (ms).
	T1Blood float64 `yaml:"t1Blood"`

	// T1CSF is the longitudinal relaxation time of CSF (ms).
	T1CSF float64 `yaml:"t1CSF"`

	// T2Blood and T2GM are the transverse relaxation times of blood and
	// grey matter (ms), used by the multi-echo exchange model.
	T2Blood float64 `yaml:"t2Blood"`
	T2GM    float64 `yaml:"t2GM"`

	// T2CSF is the transverse relaxation time of CSF (ms).
	T2CSF float64 `yaml:"t2CSF"`

	// Alpha is the RF labeling efficiency.
	Alpha float64 `yaml:"alpha"`

	// Lambda is the blood-brain partition coefficient.
	Lambda float64 `yaml:"lambda"`
}

// DefaultConstants returns the standard constants set.
func DefaultConstants() Constants {
	return Constants{
		T1Blood: 1650.0,
		T1CSF:   1400.0,
		T2Blood: 165.0,
		T2GM:    75.0,
		T2CSF:   1500.0,
		Alpha:   0.85,
		Lambda:  0.98,
	}
}

// epsTime guards divisions by fitted time constants that a bounded solver may
// drive to zero.
const epsTime = 1e-9
